package dblib

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxIdentifierLength is postgres' NAMEDATALEN-1.
const maxIdentifierLength = 63

var indexMethods = map[string]struct{}{
	IndexBtree: {}, IndexHash: {}, IndexGin: {}, IndexGist: {}, IndexSpgist: {}, IndexBrin: {},
}

// GenerateIndexName derives idx_<table>_<part>... where each part is the column
// name, or for expressions the first 20 characters of the expression reduced to
// [a-z0-9_].
func GenerateIndexName(table string, columns []IndexColumn) string {
	parts := []string{"idx", table}
	for _, c := range columns {
		if c.Column != "" {
			parts = append(parts, c.Column)
			continue
		}
		if p := sanitizeExpression(c.Expression); p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.Join(parts, "_")
	if len(name) > maxIdentifierLength {
		cut := maxIdentifierLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

func sanitizeExpression(expr string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(expr) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	s := strings.Trim(b.String(), "_")
	if len(s) > 20 {
		s = strings.TrimRight(s[:20], "_")
	}
	return s
}

// isParenthesized reports whether expr is wrapped in one pair of parentheses
// that spans the whole expression, e.g. "(a + b)" but not "(a) + (b)".
func isParenthesized(expr string) bool {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false
	}
	depth := 0
	inQuote := false
	for i, r := range expr {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 && i != len(expr)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// GenerateCreateIndexSQL renders
//
//	CREATE [UNIQUE] INDEX [CONCURRENTLY] name ON schema.table [USING method]
//	    (key [DESC] [NULLS FIRST|LAST], ...) [WHERE predicate]
//
// Sort direction and nulls ordering are only meaningful for btree and are
// dropped for other methods. An empty name is derived with GenerateIndexName.
func GenerateCreateIndexSQL(def IndexDef) (string, error) {
	if strings.TrimSpace(def.Table) == "" {
		return "", ErrEmptyTableName
	}
	if len(def.Columns) == 0 {
		return "", ErrNoColumns
	}
	method := strings.ToLower(strings.TrimSpace(def.Method))
	if method == "" {
		method = IndexBtree
	}
	if _, ok := indexMethods[method]; !ok {
		return "", fmt.Errorf("unknown index method %q", def.Method)
	}
	name := def.Name
	if name == "" {
		name = GenerateIndexName(def.Table, def.Columns)
	}

	keys := make([]string, 0, len(def.Columns))
	for i, c := range def.Columns {
		var key string
		switch {
		case c.Column != "":
			key = quoteIdent(c.Column)
		case strings.TrimSpace(c.Expression) != "":
			expr := strings.TrimSpace(c.Expression)
			if err := checkExpression("index expression", expr); err != nil {
				return "", err
			}
			if !isParenthesized(expr) {
				expr = "(" + expr + ")"
			}
			key = expr
		default:
			return "", fmt.Errorf("index key %d: column or expression is required", i+1)
		}
		if method == IndexBtree {
			if strings.EqualFold(c.Direction, "DESC") {
				key += " DESC"
			}
			switch strings.ToUpper(c.Nulls) {
			case "FIRST":
				key += " NULLS FIRST"
			case "LAST":
				key += " NULLS LAST"
			}
		}
		keys = append(keys, key)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if def.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if def.Concurrently {
		b.WriteString("CONCURRENTLY ")
	}
	b.WriteString(quoteIdent(name))
	b.WriteString(" ON ")
	b.WriteString(quoteQualified(def.Schema, def.Table))
	if method != IndexBtree {
		b.WriteString(" USING ")
		b.WriteString(method)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(")")
	if where := strings.TrimSpace(def.Where); where != "" {
		if err := checkExpression("predicate", where); err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String(), nil
}

// GenerateDropIndexSQL renders DROP INDEX [CONCURRENTLY] IF EXISTS schema.name.
func GenerateDropIndexSQL(schema, name string, concurrently bool) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("index name is required")
	}
	if concurrently {
		return "DROP INDEX CONCURRENTLY IF EXISTS " + quoteQualified(schema, name), nil
	}
	return "DROP INDEX IF EXISTS " + quoteQualified(schema, name), nil
}
