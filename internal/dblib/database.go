package dblib

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoChanges is returned by GenerateUpdateSQL when no column differs from
// the pre-image.
var ErrNoChanges = errors.New("no changed columns")

// ErrMissingKey is returned when a pre-image lacks one of the primary key
// columns needed to address it.
var ErrMissingKey = errors.New("row is missing a primary key column")

// FormatLiteral renders a value as a SQL literal. Strings and json documents
// are single-quoted with embedded quotes doubled; json is cast to jsonb and
// arrays are rendered as quoted array literals.
func FormatLiteral(v CellValue) string {
	switch v.Kind() {
	case KindNull:
		return "NULL"
	case KindBool:
		if v.AsBool() {
			return "TRUE"
		}
		return "FALSE"
	case KindNumber:
		if !v.IsInt() {
			// special values are only accepted as quoted strings
			switch f := v.AsFloat(); {
			case math.IsNaN(f):
				return "'NaN'"
			case math.IsInf(f, 1):
				return "'Infinity'"
			case math.IsInf(f, -1):
				return "'-Infinity'"
			}
		}
		return v.String()
	case KindJSON:
		return quoteLiteral(v.String()) + "::jsonb"
	default:
		return quoteLiteral(v.String())
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// predicate renders "col = literal", or "col IS NULL" for null values.
func predicate(name string, v CellValue) string {
	if v.IsNull() {
		return quoteIdent(name) + " IS NULL"
	}
	return quoteIdent(name) + " = " + FormatLiteral(v)
}

// BuildWhereClause identifies row in its table. When columns declare a primary
// key, only the key columns are used. Otherwise every column of the row is
// compared, which is ambiguous for duplicate rows.
func BuildWhereClause(row Row, columns []Column) (string, error) {
	keys := primaryKeyNames(columns)
	var parts []string
	if len(keys) > 0 {
		parts = make([]string, 0, len(keys))
		for _, k := range keys {
			v, ok := row.Get(k)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingKey, k)
			}
			parts = append(parts, predicate(k, v))
		}
	} else {
		names := row.Names()
		parts = make([]string, 0, len(names))
		for _, name := range names {
			v, _ := row.Get(name)
			parts = append(parts, predicate(name, v))
		}
	}
	return strings.Join(parts, " AND "), nil
}

// GenerateInsertSQL builds an INSERT for every column present in values.
func GenerateInsertSQL(schema, table string, values Row) (string, error) {
	if table == "" {
		return "", ErrEmptyTableName
	}
	quotedTable := quoteQualified(schema, table)
	if values.Len() == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quotedTable), nil
	}
	names := values.Names()
	literals := make([]string, len(names))
	for i, name := range names {
		v, _ := values.Get(name)
		literals[i] = FormatLiteral(v)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quotedTable, quoteIdents(names), strings.Join(literals, ", ")), nil
}

// GenerateUpdateSQL builds an UPDATE that sets only the columns of values that
// differ from original, scoped by BuildWhereClause(original). It returns
// ErrNoChanges when nothing differs.
func GenerateUpdateSQL(schema, table string, values, original Row, columns []Column) (string, error) {
	if table == "" {
		return "", ErrEmptyTableName
	}
	if original.Len() == 0 {
		return "", fmt.Errorf("update %s: missing original row", table)
	}
	var sets []string
	for _, name := range values.Names() {
		nv, _ := values.Get(name)
		if ov, ok := original.Get(name); ok && ValuesEqual(nv, ov) {
			continue
		}
		sets = append(sets, quoteIdent(name)+" = "+FormatLiteral(nv))
	}
	if len(sets) == 0 {
		return "", ErrNoChanges
	}
	where, err := BuildWhereClause(original, columns)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", table, err)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteQualified(schema, table), strings.Join(sets, ", "), where), nil
}

// GenerateDeleteSQL builds a DELETE scoped by BuildWhereClause(original).
func GenerateDeleteSQL(schema, table string, original Row, columns []Column) (string, error) {
	if table == "" {
		return "", ErrEmptyTableName
	}
	if original.Len() == 0 {
		return "", fmt.Errorf("delete from %s: missing original row", table)
	}
	where, err := BuildWhereClause(original, columns)
	if err != nil {
		return "", fmt.Errorf("delete from %s: %w", table, err)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteQualified(schema, table), where), nil
}
