package dblib

import (
	"github.com/google/uuid"
)

type DatabaseType int

const (
	PostgreSQL DatabaseType = iota
	SQLite
)

func (t DatabaseType) String() string {
	switch t {
	case PostgreSQL:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

type databaseFeature struct {
	driverName    string
	defaultSchema string
}

var databaseFeatures = map[DatabaseType]databaseFeature{
	PostgreSQL: {
		driverName:    "postgres",
		defaultSchema: "public",
	},
	SQLite: {
		driverName:    "sqlite3",
		defaultSchema: "main",
	},
}

// DriverName returns the database/sql driver registered for t.
func (t DatabaseType) DriverName() string { return databaseFeatures[t].driverName }

// DefaultSchema returns the schema unqualified tables live in.
func (t DatabaseType) DefaultSchema() string { return databaseFeatures[t].defaultSchema }

// Referential actions for foreign keys.
const (
	NoAction   = "NO ACTION"
	Restrict   = "RESTRICT"
	Cascade    = "CASCADE"
	SetNull    = "SET NULL"
	SetDefault = "SET DEFAULT"
)

// ForeignKey describes the target of a foreign-key column.
type ForeignKey struct {
	Schema         string
	Table          string
	Column         string
	ConstraintName string
	OnDelete       string // empty means NO ACTION
	OnUpdate       string
}

// Column is read-only metadata describing a column as the database currently
// has it. A fresh slice is fetched per table view and replaced on refresh.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	ForeignKey *ForeignKey
	EnumValues []string // for ENUM types, stores allowed values
	Default    string   // default expression, empty if none
}

// ColumnDefinition is the desired state of a column for CREATE TABLE and
// ALTER TABLE ADD COLUMN.
type ColumnDefinition struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Default    string
	ForeignKey *ForeignKey
}

// AlterColumnDef is a column definition in the schema editor. ID is assigned
// once when the original column is loaded and survives renames, so a renamed
// column is recognised as the same column rather than a drop and an add.
type AlterColumnDef struct {
	ID string
	ColumnDefinition
}

// Definition converts fetched metadata into an editable definition.
func (c Column) Definition() ColumnDefinition {
	def := ColumnDefinition{
		Name:       c.Name,
		Type:       c.Type,
		Nullable:   c.Nullable,
		PrimaryKey: c.PrimaryKey,
		Unique:     c.Unique,
		Default:    c.Default,
	}
	if c.ForeignKey != nil {
		fk := *c.ForeignKey
		def.ForeignKey = &fk
	}
	return def
}

// NewAlterColumnDefs assigns a fresh stable id to every column so that the
// returned slice can serve as the "original" side of GenerateAlterTableSQL.
func NewAlterColumnDefs(columns []Column) []AlterColumnDef {
	defs := make([]AlterColumnDef, len(columns))
	for i, c := range columns {
		defs[i] = AlterColumnDef{ID: uuid.NewString(), ColumnDefinition: c.Definition()}
	}
	return defs
}

// NewAlterColumn returns a definition for a column that does not exist yet.
func NewAlterColumn(def ColumnDefinition) AlterColumnDef {
	return AlterColumnDef{ID: uuid.NewString(), ColumnDefinition: def}
}

// CloneAlterColumnDefs deep-copies defs, keeping ids, so an editor can mutate
// the copy while the original stays intact.
func CloneAlterColumnDefs(defs []AlterColumnDef) []AlterColumnDef {
	out := make([]AlterColumnDef, len(defs))
	for i, d := range defs {
		out[i] = d
		if d.ForeignKey != nil {
			fk := *d.ForeignKey
			out[i].ForeignKey = &fk
		}
	}
	return out
}

// Index methods supported by postgres.
const (
	IndexBtree  = "btree"
	IndexHash   = "hash"
	IndexGin    = "gin"
	IndexGist   = "gist"
	IndexSpgist = "spgist"
	IndexBrin   = "brin"
)

// IndexColumn is one key of an index: either a column or an expression.
type IndexColumn struct {
	Column     string
	Expression string
	Direction  string // "ASC" or "DESC", btree only
	Nulls      string // "FIRST" or "LAST", btree only
}

// IndexDef describes an index to create.
type IndexDef struct {
	Name         string
	Schema       string
	Table        string
	Method       string
	Unique       bool
	Concurrently bool
	Columns      []IndexColumn
	Where        string
}
