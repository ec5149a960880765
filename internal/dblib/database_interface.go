package dblib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrTableNotFound is returned when a table has no columns in the catalog.
var ErrTableNotFound = errors.New("table not found")

// DatabaseHandler defines the metadata operations for a particular database
// type. The column list it returns is the read-only input of the SQL
// synthesizer; it is fetched once per table view and replaced wholesale on
// refresh.
type DatabaseHandler interface {
	// CheckIsView returns true if the named relation is a view. Views are
	// read-only in the editor.
	CheckIsView(ctx context.Context, db *sql.DB, schema, table string) (bool, error)

	// LoadColumns loads column metadata in table order: name, declared type,
	// nullability, default expression, primary key and single-column unique
	// constraints.
	LoadColumns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error)

	// LoadForeignKeys returns columns with the ForeignKey field populated for
	// single-column foreign key constraints.
	LoadForeignKeys(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error)

	// LoadEnumValues returns columns with EnumValues populated for enum typed
	// columns. Databases without native enums return columns unchanged.
	LoadEnumValues(ctx context.Context, db *sql.DB, schema, table string, columns []Column) ([]Column, error)
}

// NewDatabaseHandler creates a DatabaseHandler for the given database type.
//
//	handler, err := NewDatabaseHandler(dbType)
//	if err != nil {
//	    return fmt.Errorf("unsupported database: %w", err)
//	}
//	columns, err := handler.LoadColumns(ctx, db, "public", "users")
func NewDatabaseHandler(dbType DatabaseType) (DatabaseHandler, error) {
	switch dbType {
	case PostgreSQL:
		return &PostgresHandler{}, nil
	case SQLite:
		return &SQLiteHandler{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %v", dbType)
	}
}

// LoadTableColumns runs every metadata step of the handler for dbType. An
// empty schema selects the database's default schema.
func LoadTableColumns(ctx context.Context, db *sql.DB, dbType DatabaseType, schema, table string) ([]Column, error) {
	handler, err := NewDatabaseHandler(dbType)
	if err != nil {
		return nil, err
	}
	if schema == "" {
		schema = dbType.DefaultSchema()
	}
	columns, err := handler.LoadColumns(ctx, db, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns of %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schema, table)
	}
	if columns, err = handler.LoadForeignKeys(ctx, db, schema, table, columns); err != nil {
		return nil, fmt.Errorf("failed to load foreign keys of %s: %w", table, err)
	}
	if columns, err = handler.LoadEnumValues(ctx, db, schema, table, columns); err != nil {
		return nil, fmt.Errorf("failed to load enum values of %s: %w", table, err)
	}
	debugLog("LoadTableColumns: %s.%s has %d columns\n", schema, table, len(columns))
	return columns, nil
}
