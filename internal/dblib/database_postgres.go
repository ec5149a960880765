package dblib

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresHandler implements DatabaseHandler for PostgreSQL databases.
type PostgresHandler struct{}

// foreign key action codes of pg_constraint.confdeltype / confupdtype
var pgReferentialActions = map[string]string{
	"a": NoAction,
	"r": Restrict,
	"c": Cascade,
	"n": SetNull,
	"d": SetDefault,
}

// pgDeclaredType maps information_schema spellings back to the names a user
// would type: arrays become <element>[] and user-defined types keep their name.
func pgDeclaredType(dataType, udtName string) string {
	switch dataType {
	case "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	case "USER-DEFINED":
		return udtName
	default:
		return dataType
	}
}

// CheckIsView returns true if the named relation is a view, false if it's a table.
func (h *PostgresHandler) CheckIsView(ctx context.Context, db *sql.DB, schema, table string) (bool, error) {
	var isView bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_views
			WHERE schemaname = $1 AND viewname = $2
		)`, schema, table).Scan(&isView)
	return isView, err
}

// LoadColumns loads column metadata for a PostgreSQL table.
func (h *PostgresHandler) LoadColumns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	query := `SELECT column_name, data_type, udt_name, is_nullable, COALESCE(column_default, '')
			FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2
			ORDER BY ordinal_position`
	rows, err := db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var dataType, udtName, nullable string
		if err := rows.Scan(&col.Name, &dataType, &udtName, &nullable, &col.Default); err != nil {
			return nil, err
		}
		col.Type = pgDeclaredType(dataType, udtName)
		col.Nullable = strings.ToLower(nullable) == "yes"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Primary key and single-column unique constraints
	conQuery := `SELECT con.contype, a.attname, array_length(con.conkey, 1)
	             FROM pg_constraint con
	             JOIN pg_class rel ON rel.oid = con.conrelid
	             JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
	             JOIN pg_attribute a ON a.attrelid = rel.oid AND a.attnum = ANY(con.conkey)
	             WHERE nsp.nspname = $1 AND rel.relname = $2 AND con.contype IN ('p', 'u')`
	conRows, err := db.QueryContext(ctx, conQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer conRows.Close()
	for conRows.Next() {
		var contype, colName string
		var numCols int
		if err := conRows.Scan(&contype, &colName, &numCols); err != nil {
			return nil, err
		}
		for i := range columns {
			if columns[i].Name != colName {
				continue
			}
			switch {
			case contype == "p":
				columns[i].PrimaryKey = true
			case contype == "u" && numCols == 1:
				columns[i].Unique = true
			}
		}
	}
	return columns, conRows.Err()
}

// LoadForeignKeys loads single-column foreign key constraints for a PostgreSQL
// table. Composite foreign keys cannot be edited per column and are skipped.
func (h *PostgresHandler) LoadForeignKeys(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error) {
	updatedColumns := make([]Column, len(columns))
	copy(updatedColumns, columns)

	fkQuery := `
            SELECT con.conname, att.attname, fnsp.nspname, frel.relname, fatt.attname,
                   con.confdeltype, con.confupdtype
            FROM pg_constraint con
            JOIN pg_class rel ON rel.oid = con.conrelid
            JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
            JOIN pg_attribute att ON att.attrelid = rel.oid AND att.attnum = con.conkey[1]
            JOIN pg_class frel ON frel.oid = con.confrelid
            JOIN pg_namespace fnsp ON fnsp.oid = frel.relnamespace
            JOIN pg_attribute fatt ON fatt.attrelid = frel.oid AND fatt.attnum = con.confkey[1]
            WHERE con.contype = 'f' AND nsp.nspname = $1 AND rel.relname = $2
              AND array_length(con.conkey, 1) = 1
            ORDER BY con.conname`
	fkRows, err := db.QueryContext(ctx, fkQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var fk ForeignKey
		var col, onDelete, onUpdate string
		if err := fkRows.Scan(&fk.ConstraintName, &col, &fk.Schema, &fk.Table, &fk.Column, &onDelete, &onUpdate); err != nil {
			return nil, err
		}
		fk.OnDelete = pgReferentialActions[onDelete]
		fk.OnUpdate = pgReferentialActions[onUpdate]
		for i := range updatedColumns {
			if updatedColumns[i].Name == col && updatedColumns[i].ForeignKey == nil {
				ref := fk
				updatedColumns[i].ForeignKey = &ref
			}
		}
	}
	return updatedColumns, fkRows.Err()
}

// LoadEnumValues fetches enum labels for enum typed PostgreSQL columns.
func (h *PostgresHandler) LoadEnumValues(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error) {
	updatedColumns := make([]Column, len(columns))
	copy(updatedColumns, columns)

	query := `SELECT c.column_name, e.enumlabel
	          FROM information_schema.columns c
	          JOIN pg_type t ON t.typname = c.udt_name
	          JOIN pg_namespace tn ON tn.oid = t.typnamespace AND tn.nspname = c.udt_schema
	          JOIN pg_enum e ON e.enumtypid = t.oid
	          WHERE c.table_schema = $1 AND c.table_name = $2 AND c.data_type = 'USER-DEFINED'
	          ORDER BY c.ordinal_position, e.enumsortorder`
	rows, err := db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var colName, label string
		if err := rows.Scan(&colName, &label); err != nil {
			return nil, err
		}
		for i := range updatedColumns {
			if updatedColumns[i].Name == colName {
				updatedColumns[i].EnumValues = append(updatedColumns[i].EnumValues, label)
				break
			}
		}
	}
	return updatedColumns, rows.Err()
}
