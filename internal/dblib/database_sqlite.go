package dblib

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteHandler implements DatabaseHandler for SQLite databases. The schema is
// the attached database name, "main" for the primary file.
type SQLiteHandler struct{}

// sqlitePragma renders PRAGMA schema.name(table). Arguments are quoted since
// PRAGMA does not take bound parameters.
func sqlitePragma(name, schema, table string) string {
	if schema == "" {
		return fmt.Sprintf("PRAGMA %s(%s)", name, quoteIdent(table))
	}
	return fmt.Sprintf("PRAGMA %s.%s(%s)", quoteIdent(schema), name, quoteIdent(table))
}

func sqliteMaster(schema string) string {
	if schema == "" {
		return "sqlite_master"
	}
	return quoteIdent(schema) + ".sqlite_master"
}

// CheckIsView returns true if the named relation is a view, false if it's a table.
func (h *SQLiteHandler) CheckIsView(ctx context.Context, db *sql.DB, schema, table string) (bool, error) {
	var relType string
	err := db.QueryRowContext(ctx, "SELECT type FROM "+sqliteMaster(schema)+" WHERE name = ?", table).Scan(&relType)
	if err != nil {
		return false, err
	}
	return relType == "view", nil
}

// LoadColumns loads columns for a SQLite table from PRAGMA table_info. Unique
// constraints come from single-column unique indexes.
func (h *SQLiteHandler) LoadColumns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, sqlitePragma("table_info", schema, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var cid, notNull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull != 1 && pk == 0
		col.PrimaryKey = pk > 0
		col.Default = dfltValue.String
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	idxRows, err := db.QueryContext(ctx, sqlitePragma("index_list", schema, table))
	if err != nil {
		return nil, err
	}
	defer idxRows.Close()
	var uniqueIndexes []string
	for idxRows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := idxRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		if unique == 1 && origin != "pk" && partial == 0 {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}
	idxRows.Close()

	for _, name := range uniqueIndexes {
		cols, err := sqliteIndexColumns(ctx, db, schema, name)
		if err != nil {
			return nil, err
		}
		if len(cols) != 1 {
			continue
		}
		for i := range columns {
			if columns[i].Name == cols[0] {
				columns[i].Unique = true
			}
		}
	}
	return columns, nil
}

func sqliteIndexColumns(ctx context.Context, db *sql.DB, schema, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, sqlitePragma("index_info", schema, index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		cols = append(cols, name.String)
	}
	return cols, rows.Err()
}

// LoadForeignKeys loads single-column foreign key constraints for a SQLite
// table. SQLite constraints are unnamed.
func (h *SQLiteHandler) LoadForeignKeys(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error) {
	updatedColumns := make([]Column, len(columns))
	copy(updatedColumns, columns)

	// PRAGMA foreign_key_list returns one row per referencing column
	// cols: id, seq, table, from, to, on_update, on_delete, match
	fkRows, err := db.QueryContext(ctx, sqlitePragma("foreign_key_list", schema, table))
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()

	type fkCol struct {
		col string
		fk  ForeignKey
	}
	byID := map[int][]fkCol{}
	var ids []int
	for fkRows.Next() {
		var id, seq int
		var refTable, fromCol, onUpd, onDel, match string
		var toCol sql.NullString
		if err := fkRows.Scan(&id, &seq, &refTable, &fromCol, &toCol, &onUpd, &onDel, &match); err != nil {
			return nil, err
		}
		if _, seen := byID[id]; !seen {
			ids = append(ids, id)
		}
		byID[id] = append(byID[id], fkCol{col: fromCol, fk: ForeignKey{
			Schema:   schema,
			Table:    refTable,
			Column:   toCol.String,
			OnDelete: strings.ToUpper(onDel),
			OnUpdate: strings.ToUpper(onUpd),
		}})
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		cols := byID[id]
		if len(cols) != 1 {
			continue
		}
		for i := range updatedColumns {
			if updatedColumns[i].Name == cols[0].col {
				ref := cols[0].fk
				updatedColumns[i].ForeignKey = &ref
			}
		}
	}
	return updatedColumns, nil
}

// LoadEnumValues is a no-op for SQLite (no native ENUM support).
func (h *SQLiteHandler) LoadEnumValues(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error) {
	return columns, nil
}
