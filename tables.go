package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pgted/internal/dblib"
)

// fuzzyMatch performs fuzzy matching and returns match status and positions.
// It matches characters from search in order within text (case-insensitive).
func fuzzyMatch(search, text string) (bool, []int) {
	search = strings.ToLower(search)
	text = strings.ToLower(text)

	var positions []int
	searchRunes := []rune(search)
	searchIdx := 0
	for i, char := range []rune(text) {
		if searchIdx < len(searchRunes) && char == searchRunes[searchIdx] {
			positions = append(positions, i)
			searchIdx++
		}
	}

	return searchIdx == len(searchRunes), positions
}

func isPrefixMatch(search, text string) bool {
	return strings.HasPrefix(strings.ToLower(text), strings.ToLower(search))
}

// cleanTableNames removes newlines and whitespace from table names
func cleanTableNames(tables []string) []string {
	cleaned := make([]string, 0, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(strings.ReplaceAll(table, "\n", ""))
		if name != "" {
			cleaned = append(cleaned, name)
		}
	}
	return cleaned
}

// filterTables returns the tables matching search, prefix matches first and
// fuzzy matches after, each group in the original order.
func filterTables(search string, tables []string) []string {
	if search == "" {
		return tables
	}
	var prefix, fuzzy []string
	for _, table := range tables {
		if isPrefixMatch(search, table) {
			prefix = append(prefix, table)
		} else if ok, _ := fuzzyMatch(search, table); ok {
			fuzzy = append(fuzzy, table)
		}
	}
	return append(prefix, fuzzy...)
}

// listTables returns the tables and views of schema, sorted by name.
func listTables(ctx context.Context, conn *Connection, schema string) ([]string, error) {
	var query string
	var args []any
	switch conn.Type {
	case dblib.PostgreSQL:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = $1"
		args = append(args, schema)
	case dblib.SQLite:
		query = fmt.Sprintf(`SELECT name FROM "%s".sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%'`,
			strings.ReplaceAll(schema, `"`, `""`))
	default:
		return nil, fmt.Errorf("unsupported database type for listTables")
	}

	rows, err := conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables = cleanTableNames(tables)
	sort.Strings(tables)
	return tables, nil
}

// suggestTable appends close table names to a lookup error.
func suggestTable(ctx context.Context, conn *Connection, schema, table string, err error) error {
	tables, listErr := listTables(ctx, conn, schema)
	if listErr != nil {
		return err
	}
	matches := filterTables(table, tables)
	if len(matches) == 0 && len(table) > 3 {
		matches = filterTables(table[:3], tables)
	}
	if len(matches) > 5 {
		matches = matches[:5]
	}
	if len(matches) == 0 {
		return err
	}
	return fmt.Errorf("%w (did you mean: %s?)", err, strings.Join(matches, ", "))
}
