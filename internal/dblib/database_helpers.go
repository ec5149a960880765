package dblib

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// ErrUnsafeSQL is returned when an expression or statement contains a
// statement separator or comment sequence where none is allowed.
var ErrUnsafeSQL = errors.New("unsafe sql")

// quoteIdent quotes an identifier (table/column) with double quotes, doubling
// embedded quotes. Identifiers are always quoted so that case and reserved
// words survive.
func quoteIdent(ident string) string {
	return pq.QuoteIdentifier(ident)
}

// quoteQualified quotes schema and name independently. An empty schema
// yields just the quoted name.
func quoteQualified(schema, name string) string {
	if schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(schema) + "." + quoteIdent(name)
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// checkExpression guards raw SQL fragments (type names, default expressions,
// index expressions, predicates) that cannot be escaped because they are code,
// not data.
func checkExpression(kind, expr string) error {
	if strings.Contains(expr, ";") || strings.Contains(expr, "--") || strings.Contains(expr, "/*") {
		return fmt.Errorf("%w: %s %q", ErrUnsafeSQL, kind, expr)
	}
	return nil
}

// BuildSelectSQL builds the statement that fetches a page of rows for a table
// view. Rows are ordered by the given key columns so that pages are stable.
func BuildSelectSQL(schema, table string, columns []string, orderBy []string, limit int) string {
	var builder strings.Builder
	builder.Grow(32 + len(schema) + len(table) + 8*len(columns))

	builder.WriteString("SELECT ")
	if len(columns) == 0 {
		builder.WriteString("*")
	} else {
		builder.WriteString(quoteIdents(columns))
	}
	builder.WriteString(" FROM ")
	builder.WriteString(quoteQualified(schema, table))
	if len(orderBy) > 0 {
		builder.WriteString(" ORDER BY ")
		builder.WriteString(quoteIdents(orderBy))
	}
	if limit > 0 {
		builder.WriteString(" LIMIT ")
		builder.WriteString(strconv.Itoa(limit))
	}
	return builder.String()
}

// primaryKeyNames returns the primary key column names in column order.
func primaryKeyNames(columns []Column) []string {
	var keys []string
	for _, c := range columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

func columnByName(columns []Column, name string) (Column, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
