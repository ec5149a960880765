package dblib

import (
	"encoding/json"
	"strconv"
)

// Kind identifies which case of the CellValue variant is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindJSON
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// CellValue is a fully decoded logical column value. The zero value is null.
//
// Numbers parsed from integer columns keep their int64 form so that large
// keys survive a round trip into a WHERE clause unchanged.
type CellValue struct {
	kind  Kind
	b     bool
	isInt bool
	i     int64
	f     float64
	s     string
	obj   any      // decoded json document (map[string]any, []any, ...)
	items []string // decoded postgres array
}

func Null() CellValue { return CellValue{} }

func Bool(b bool) CellValue { return CellValue{kind: KindBool, b: b} }

func Int(i int64) CellValue { return CellValue{kind: KindNumber, isInt: true, i: i} }

func Float(f float64) CellValue { return CellValue{kind: KindNumber, f: f} }

func Text(s string) CellValue { return CellValue{kind: KindText, s: s} }

// JSON wraps a decoded json document such as map[string]any or []any.
func JSON(v any) CellValue {
	if v == nil {
		return Null()
	}
	return CellValue{kind: KindJSON, obj: v}
}

// Array wraps a decoded postgres array. The slice is copied.
func Array(items []string) CellValue {
	cp := make([]string, len(items))
	copy(cp, items)
	return CellValue{kind: KindArray, items: cp}
}

func (v CellValue) Kind() Kind { return v.kind }
func (v CellValue) IsNull() bool { return v.kind == KindNull }
func (v CellValue) IsInt() bool { return v.kind == KindNumber && v.isInt }
func (v CellValue) AsBool() bool { return v.b }
func (v CellValue) AsInt() int64 { return v.i }
func (v CellValue) AsText() string { return v.s }
func (v CellValue) AsJSON() any { return v.obj }

// AsFloat returns the numeric value as float64 regardless of representation.
func (v CellValue) AsFloat() float64 {
	if v.isInt {
		return float64(v.i)
	}
	return v.f
}

// AsArray returns a copy of the array items.
func (v CellValue) AsArray() []string {
	cp := make([]string, len(v.items))
	copy(cp, v.items)
	return cp
}

// String renders the value the way it would appear in an edit box, without
// truncation.
func (v CellValue) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.isInt {
			return strconv.FormatInt(v.i, 10)
		}
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	case KindJSON:
		return canonicalJSON(v.obj)
	case KindArray:
		return EncodeArray(v.items)
	}
	return ""
}

// canonicalJSON marshals a document compactly. encoding/json sorts map keys,
// which makes the output stable for comparisons.
func canonicalJSON(obj any) string {
	data, err := json.Marshal(obj)
	if err != nil {
		return ""
	}
	return string(data)
}

// Row is an ordered mapping from column name to value.
type Row struct {
	names  []string
	values map[string]CellValue
}

func NewRow() Row {
	return Row{values: make(map[string]CellValue)}
}

// RowOf builds a row from parallel name and value slices.
func RowOf(names []string, values []CellValue) Row {
	r := NewRow()
	for i, name := range names {
		if i < len(values) {
			r.Set(name, values[i])
		}
	}
	return r
}

// Set assigns a value, appending the column if it is new.
func (r *Row) Set(name string, v CellValue) {
	if r.values == nil {
		r.values = make(map[string]CellValue)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

func (r Row) Get(name string) (CellValue, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r Row) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Names returns the column names in insertion order.
func (r Row) Names() []string {
	cp := make([]string, len(r.names))
	copy(cp, r.names)
	return cp
}

func (r Row) Len() int { return len(r.names) }

func (r Row) Clone() Row {
	c := Row{names: make([]string, len(r.names)), values: make(map[string]CellValue, len(r.values))}
	copy(c.names, r.names)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Matches reports whether every column of r is present in other with an
// equal value. Columns only present in other are ignored.
func (r Row) Matches(other Row) bool {
	for _, name := range r.names {
		ov, ok := other.values[name]
		if !ok || !ValuesEqual(r.values[name], ov) {
			return false
		}
	}
	return true
}
