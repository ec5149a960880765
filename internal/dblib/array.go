package dblib

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// DecodeArray turns a postgres array literal such as {a,b,"c,d"} into its
// items. A JSON array string, a []string, a []any or an array CellValue are
// accepted as well. An unquoted NULL element decodes to the empty string.
func DecodeArray(input any) []string {
	switch v := input.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		return stringifyItems(v)
	case CellValue:
		switch v.Kind() {
		case KindArray:
			return v.AsArray()
		case KindJSON:
			if items, ok := v.AsJSON().([]any); ok {
				return stringifyItems(items)
			}
			return []string{}
		case KindNull:
			return []string{}
		default:
			return DecodeArray(v.String())
		}
	case []byte:
		return DecodeArray(string(v))
	case string:
		return decodeArrayLiteral(v)
	default:
		return []string{fmt.Sprint(v)}
	}
}

func stringifyItems(items []any) []string {
	out := make([]string, len(items))
	for i, item := range items {
		switch x := item.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = x
		case map[string]any, []any:
			out[i] = canonicalJSON(x)
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}

func decodeArrayLiteral(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return stringifyItems(items)
		}
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = s[1 : len(s)-1]
	}
	out := []string{}
	if strings.TrimSpace(s) == "" {
		return out
	}

	var (
		cur     strings.Builder
		inQuote bool
		escaped bool
		quoted  bool
		depth   int
	)
	push := func() {
		tok := cur.String()
		if !quoted {
			tok = strings.TrimSpace(tok)
			if strings.EqualFold(tok, "NULL") {
				tok = ""
			}
		}
		out = append(out, tok)
		cur.Reset()
		quoted = false
	}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			if depth > 0 {
				cur.WriteRune(r)
			}
			escaped = true
		case r == '"':
			inQuote = !inQuote
			if depth == 0 {
				quoted = true
			} else {
				cur.WriteRune(r)
			}
		case inQuote:
			cur.WriteRune(r)
		case r == '{':
			depth++
			cur.WriteRune(r)
		case r == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case r == ',' && depth == 0:
			push()
		default:
			cur.WriteRune(r)
		}
	}
	push()
	return out
}

// EncodeArray renders items as a postgres array literal. Items that are empty,
// spell NULL, or contain separators, quotes, backslashes, braces or whitespace
// are double-quoted with backslash escapes.
func EncodeArray(items []string) string {
	if len(items) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if !needsArrayQuoting(item) {
			b.WriteString(item)
			continue
		}
		b.WriteByte('"')
		for _, r := range item {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func needsArrayQuoting(item string) bool {
	if item == "" || strings.EqualFold(item, "NULL") {
		return true
	}
	for _, r := range item {
		if unicode.IsSpace(r) || strings.ContainsRune(",\"\\{}", r) {
			return true
		}
	}
	return false
}
