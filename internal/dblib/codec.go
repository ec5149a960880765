package dblib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// LargeValueThreshold is the formatted length above which a value is
	// edited in the full-screen editor instead of inline.
	LargeValueThreshold = 500
	// PreviewLength is the number of characters shown for truncated values.
	PreviewLength = 100
	// Ellipsis marks a truncated preview.
	Ellipsis = "…"
)

// TypeCategory groups postgres type names by how their values are edited.
type TypeCategory int

const (
	CategoryText TypeCategory = iota
	CategoryInteger
	CategoryFloat
	CategoryBool
	CategoryDate
	CategoryTime
	CategoryTimestamp
	CategoryJSON
	CategoryArray
)

var integerTypes = map[string]struct{}{
	"smallint": {}, "integer": {}, "bigint": {}, "int": {}, "int2": {}, "int4": {}, "int8": {},
	"smallserial": {}, "serial": {}, "bigserial": {}, "serial2": {}, "serial4": {}, "serial8": {},
}

var floatTypes = map[string]struct{}{
	"real": {}, "double precision": {}, "float": {}, "float4": {}, "float8": {},
	"numeric": {}, "decimal": {}, "double": {},
}

// Categorize classifies a declared column type. It accepts information_schema
// spellings ("character varying", "timestamp with time zone", "ARRAY"), udt
// names ("int4", "_text") and driver type names ("INT4", "JSONB").
func Categorize(declaredType string) TypeCategory {
	t := normalizeType(declaredType)
	switch {
	case t == "":
		return CategoryText
	case t == "array" || strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "_"):
		return CategoryArray
	case t == "json" || t == "jsonb":
		return CategoryJSON
	case t == "bool" || t == "boolean":
		return CategoryBool
	case t == "date":
		return CategoryDate
	case strings.HasPrefix(t, "timestamp"):
		return CategoryTimestamp
	case strings.HasPrefix(t, "time"):
		return CategoryTime
	}
	if _, ok := integerTypes[t]; ok {
		return CategoryInteger
	}
	if _, ok := floatTypes[t]; ok {
		return CategoryFloat
	}
	// sqlite declares loose affinities such as "INTEGER(8)" or "UNSIGNED BIG INT"
	if strings.HasSuffix(t, " int") || strings.HasSuffix(t, "integer") {
		return CategoryInteger
	}
	return CategoryText
}

// normalizeType lowercases a type name and strips any modifiers in
// parentheses, e.g. "NUMERIC(10,2)" -> "numeric".
func normalizeType(declaredType string) string {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	for {
		open := strings.IndexByte(t, '(')
		if open == -1 {
			break
		}
		end := strings.IndexByte(t[open:], ')')
		if end == -1 {
			t = t[:open]
			break
		}
		t = t[:open] + t[open+end+1:]
	}
	return strings.Join(strings.Fields(t), " ")
}

// Format renders a value as editable text. With truncate set, values longer
// than PreviewLength characters are cut and suffixed with Ellipsis.
func Format(v CellValue, truncate bool) string {
	s := v.String()
	if truncate {
		return truncateText(s, PreviewLength)
	}
	return s
}

func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + Ellipsis
}

// IsLargeValue reports whether the formatted value exceeds LargeValueThreshold.
func IsLargeValue(v CellValue) bool {
	return utf8.RuneCountInString(v.String()) > LargeValueThreshold
}

// Preview returns the inline cell text and whether the value is large and must
// be opened in the dedicated editor.
func Preview(v CellValue) (string, bool) {
	return Format(v, true), IsLargeValue(v)
}

// Parse converts typed text into a value for a column of the declared type.
// It never fails: input that does not fit the type is kept as text so the
// server can reject it.
func Parse(text, declaredType string) CellValue {
	if text == "" || strings.EqualFold(text, "null") {
		return Null()
	}
	switch Categorize(declaredType) {
	case CategoryInteger:
		if i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil {
			return Int(i)
		}
		return Text(text)
	case CategoryFloat:
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return Float(f)
		}
		return Text(text)
	case CategoryBool:
		return Bool(strings.EqualFold(strings.TrimSpace(text), "true"))
	default:
		return Text(text)
	}
}

// ValuesEqual is the equality used for change detection.
//
// Primitives of the same kind compare directly. Two json documents compare by
// canonical serialization, and a json document equals a text value holding its
// serialization (a jsonb cell edited as raw text). Anything else compares by
// string representation. Null only equals null.
func ValuesEqual(a, b CellValue) bool {
	if a.kind == KindNull || b.kind == KindNull {
		return a.kind == b.kind
	}
	if a.kind == b.kind {
		switch a.kind {
		case KindBool:
			return a.b == b.b
		case KindNumber:
			if a.isInt && b.isInt {
				return a.i == b.i
			}
			return a.AsFloat() == b.AsFloat()
		case KindText:
			return a.s == b.s
		case KindJSON:
			return canonicalJSON(a.obj) == canonicalJSON(b.obj)
		case KindArray:
			if len(a.items) != len(b.items) {
				return false
			}
			for i := range a.items {
				if a.items[i] != b.items[i] {
					return false
				}
			}
			return true
		}
	}
	if a.kind == KindNumber && b.kind == KindNumber {
		return a.AsFloat() == b.AsFloat()
	}
	return a.String() == b.String()
}

// FromDriverValue decodes a value scanned through database/sql into a
// CellValue using the declared column type.
func FromDriverValue(v any, declaredType string) CellValue {
	cat := Categorize(declaredType)
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int64:
		if cat == CategoryBool {
			return Bool(x != 0)
		}
		return Int(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case float64:
		if cat == CategoryInteger && x == float64(int64(x)) {
			return Int(int64(x))
		}
		return Float(x)
	case float32:
		return Float(float64(x))
	case []byte:
		return fromDriverText(string(x), cat)
	case string:
		return fromDriverText(x, cat)
	case time.Time:
		return Text(FormatTemporal(x, declaredType))
	case []string:
		return Array(x)
	default:
		return Text(fmt.Sprint(x))
	}
}

func fromDriverText(s string, cat TypeCategory) CellValue {
	switch cat {
	case CategoryInteger:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	case CategoryFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	case CategoryBool:
		switch strings.ToLower(s) {
		case "t", "true", "1":
			return Bool(true)
		case "f", "false", "0":
			return Bool(false)
		}
	case CategoryJSON:
		if doc, ok := decodeJSON(s); ok {
			return JSON(doc)
		}
	case CategoryArray:
		return Array(DecodeArray(s))
	}
	return Text(s)
}

// decodeJSON keeps numbers as json.Number so that re-encoding reproduces the
// original digits.
func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return doc, true
}
