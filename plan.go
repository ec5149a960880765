package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"pgted/internal/dblib"
)

// Plan is an edit script applied to one database. Within a table, statements
// are staged in the order create, rows, alter, indexes; tables follow the
// order of the file.
type Plan struct {
	Tables []TablePlan `yaml:"tables"`
}

type TablePlan struct {
	Schema string `yaml:"schema,omitempty"`
	Table  string `yaml:"table"`
	// RequireKey refuses row edits on tables without a primary key.
	RequireKey bool          `yaml:"require_key,omitempty"`
	Create     []ColumnPatch `yaml:"create,omitempty"`
	Rows       []RowPlan     `yaml:"rows,omitempty"`
	Alter      *AlterPlan    `yaml:"alter,omitempty"`
	Indexes    []IndexPlan   `yaml:"indexes,omitempty"`
}

// AlterPlan edits the fetched column list. Patches with From change the
// existing column of that name; patches without it add a column. Existing
// columns that no patch mentions are kept unchanged.
type AlterPlan struct {
	Rename  string        `yaml:"rename,omitempty"`
	Columns []ColumnPatch `yaml:"columns"`
}

type ColumnPatch struct {
	From       string         `yaml:"from,omitempty"`
	Drop       bool           `yaml:"drop,omitempty"`
	Name       string         `yaml:"name,omitempty"`
	Type       string         `yaml:"type,omitempty"`
	Nullable   *bool          `yaml:"nullable,omitempty"`
	PrimaryKey *bool          `yaml:"primary_key,omitempty"`
	Unique     *bool          `yaml:"unique,omitempty"`
	Default    *string        `yaml:"default,omitempty"`
	References *ReferencePlan `yaml:"references,omitempty"`
}

// ReferencePlan sets a foreign key. An empty table removes it.
type ReferencePlan struct {
	Schema   string `yaml:"schema,omitempty"`
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	Name     string `yaml:"name,omitempty"`
	OnDelete string `yaml:"on_delete,omitempty"`
	OnUpdate string `yaml:"on_update,omitempty"`
}

type IndexPlan struct {
	// Drop names an existing index to drop; the other fields are ignored.
	Drop         string              `yaml:"drop,omitempty"`
	Name         string              `yaml:"name,omitempty"`
	Method       string              `yaml:"method,omitempty"`
	Unique       bool                `yaml:"unique,omitempty"`
	Concurrently bool                `yaml:"concurrently,omitempty"`
	Columns      []dblib.IndexColumn `yaml:"columns,omitempty"`
	Where        string              `yaml:"where,omitempty"`
}

// RowPlan is one row edit. Values are typed-in text parsed with the column
// type; a YAML null stages NULL.
type RowPlan struct {
	Op     string             `yaml:"op"`
	Match  map[string]*string `yaml:"match,omitempty"`
	Set    map[string]*string `yaml:"set,omitempty"`
	Values map[string]*string `yaml:"values,omitempty"`
}

func loadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read plan: %w", err)
	}
	return parsePlan(data)
}

func parsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("could not parse plan: %w", err)
	}
	if len(plan.Tables) == 0 {
		return nil, fmt.Errorf("plan has no tables")
	}
	for i, tp := range plan.Tables {
		if tp.Table == "" {
			return nil, fmt.Errorf("plan table %d: %w", i+1, dblib.ErrEmptyTableName)
		}
		for j, rp := range tp.Rows {
			switch rp.Op {
			case "update", "delete", "insert":
			default:
				return nil, fmt.Errorf("%s row %d: unknown op %q", tp.Table, j+1, rp.Op)
			}
		}
	}
	return &plan, nil
}

// stagedPlan is the result of staging a plan: one session per table and the
// merged change set in plan order.
type stagedPlan struct {
	Changes  *dblib.ChangeSet
	Sessions []*dblib.Session
	Warnings []string
}

// tableMeta is what the stager needs to know about an existing table.
type tableMeta struct {
	columns []dblib.Column
	rows    []dblib.Row
}

// loadPlanMetadata fetches column metadata and current rows of every table
// the plan edits without creating it. Tables are loaded concurrently.
func loadPlanMetadata(ctx context.Context, conn *Connection, exec dblib.StatementExecutor, plan *Plan) ([]*tableMeta, error) {
	metas := make([]*tableMeta, len(plan.Tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, tp := range plan.Tables {
		if len(tp.Create) > 0 {
			continue
		}
		schema := tp.schemaOr(conn.Schema)
		g.Go(func() error {
			handler, err := dblib.NewDatabaseHandler(conn.Type)
			if err != nil {
				return err
			}
			isView, err := handler.CheckIsView(ctx, conn.DB, schema, tp.Table)
			if err != nil {
				return fmt.Errorf("%s: %w", tp.Table, err)
			}
			if isView {
				return fmt.Errorf("%s is a view and cannot be edited", tp.Table)
			}
			columns, err := dblib.LoadTableColumns(ctx, conn.DB, conn.Type, schema, tp.Table)
			if errors.Is(err, dblib.ErrTableNotFound) {
				return suggestTable(ctx, conn, schema, tp.Table, err)
			}
			if err != nil {
				return err
			}
			meta := &tableMeta{columns: columns}
			if len(tp.Rows) > 0 {
				if meta.rows, err = fetchRows(ctx, exec, schema, tp.Table, columns); err != nil {
					return err
				}
			}
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return metas, nil
}

func fetchRows(ctx context.Context, exec dblib.StatementExecutor, schema, table string, columns []dblib.Column) ([]dblib.Row, error) {
	names := make([]string, len(columns))
	var keys []string
	for i, c := range columns {
		names[i] = c.Name
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	res, err := exec.Execute(ctx, dblib.BuildSelectSQL(schema, table, names, keys, 0))
	if err != nil {
		return nil, fmt.Errorf("could not fetch %s: %w", table, err)
	}
	return res.Rows, nil
}

func (tp TablePlan) schemaOr(def string) string {
	if tp.Schema != "" {
		return tp.Schema
	}
	return def
}

// stagePlan stages every edit of the plan through the engine. Nothing is
// executed except the metadata and row fetches.
func stagePlan(ctx context.Context, conn *Connection, exec dblib.StatementExecutor, plan *Plan) (*stagedPlan, error) {
	metas, err := loadPlanMetadata(ctx, conn, exec, plan)
	if err != nil {
		return nil, err
	}

	staged := &stagedPlan{Changes: dblib.NewChangeSet()}
	for i, tp := range plan.Tables {
		schema := tp.schemaOr(conn.Schema)
		meta := metas[i]

		var createSQL string
		if len(tp.Create) > 0 {
			defs, err := createDefinitions(tp.Create)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tp.Table, err)
			}
			if createSQL, err = dblib.GenerateCreateTableSQL(schema, tp.Table, defs); err != nil {
				return nil, fmt.Errorf("%s: %w", tp.Table, err)
			}
			meta = &tableMeta{columns: definitionColumns(defs)}
		}

		s := dblib.NewSession(schema, tp.Table, meta.columns)
		s.RequireKey = tp.RequireKey
		if createSQL != "" {
			s.StageSchema(createSQL)
			recordStage("create", tp.Table)
		}
		staged.Sessions = append(staged.Sessions, s)
		if w := s.KeyWarning(); w != "" && len(tp.Rows) > 0 {
			staged.Warnings = append(staged.Warnings, w)
		}

		for j, rp := range tp.Rows {
			if err := stageRow(s, meta.rows, rp); err != nil {
				return nil, fmt.Errorf("%s row %d: %w", tp.Table, j+1, err)
			}
			recordStage(rp.Op, tp.Table)
		}

		if tp.Alter != nil {
			original := dblib.NewAlterColumnDefs(meta.columns)
			edited, err := applyAlterPlan(original, tp.Alter.Columns)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tp.Table, err)
			}
			n, err := s.StageAlter(original, edited, tp.Alter.Rename)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tp.Table, err)
			}
			debugLog("staged %d alter statements for %s\n", n, tp.Table)
			recordStage("alter", tp.Table)
		}

		table := tp.Table
		if tp.Alter != nil && tp.Alter.Rename != "" {
			table = tp.Alter.Rename
		}
		for _, ip := range tp.Indexes {
			stmt, err := indexStatement(schema, table, ip)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tp.Table, err)
			}
			s.StageSchema(stmt)
			recordStage("index", tp.Table)
		}
		staged.Changes.Merge(s.Changes)
	}
	return staged, nil
}

func stageRow(s *dblib.Session, rows []dblib.Row, rp RowPlan) error {
	switch rp.Op {
	case "insert":
		values, err := parseTexts(s.Columns, rp.Values)
		if err != nil {
			return err
		}
		texts := map[string]string{}
		for name, text := range rp.Values {
			if text != nil {
				texts[name] = *text
			}
		}
		if len(texts) == len(rp.Values) {
			_, err = s.StageInsert(texts)
			return err
		}
		// explicit NULLs cannot be spelled as text
		_, err = s.Changes.Add(dblib.ChangeInsert, s.Schema, s.Table, values, dblib.Row{}, s.Columns)
		return err

	case "update", "delete":
		match, err := parseTexts(s.Columns, rp.Match)
		if err != nil {
			return err
		}
		if match.Len() == 0 {
			return fmt.Errorf("%s needs a match", rp.Op)
		}
		// match against the view so earlier rows of the plan are honoured
		view := s.View(rows)
		var matched int
		for _, vr := range view {
			if vr.PendingInsert || vr.PendingDelete || !match.Matches(vr.Values) {
				continue
			}
			matched++
			if rp.Op == "delete" {
				_, err = s.StageDelete(vr.Values)
			} else {
				var values dblib.Row
				if values, err = parseTexts(s.Columns, rp.Set); err == nil {
					_, err = s.StageValues(vr.Values, values)
				}
				if errors.Is(err, dblib.ErrNoChanges) {
					err = nil
				}
			}
			if err != nil {
				return err
			}
		}
		if matched == 0 {
			return fmt.Errorf("no rows match")
		}
		return nil
	}
	return fmt.Errorf("unknown op %q", rp.Op)
}

// parseTexts parses typed-in text per column type, in table column order.
func parseTexts(columns []dblib.Column, texts map[string]*string) (dblib.Row, error) {
	row := dblib.NewRow()
	known := map[string]bool{}
	for _, c := range columns {
		known[c.Name] = true
		text, ok := texts[c.Name]
		if !ok {
			continue
		}
		if text == nil {
			row.Set(c.Name, dblib.Null())
		} else {
			row.Set(c.Name, dblib.Parse(*text, c.Type))
		}
	}
	var unknown []string
	for name := range texts {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return dblib.Row{}, fmt.Errorf("unknown columns %v", unknown)
	}
	return row, nil
}

func createDefinitions(patches []ColumnPatch) ([]dblib.ColumnDefinition, error) {
	defs := make([]dblib.ColumnDefinition, 0, len(patches))
	for _, p := range patches {
		if p.From != "" || p.Drop {
			return nil, fmt.Errorf("create columns cannot use from or drop")
		}
		def := dblib.ColumnDefinition{Nullable: true}
		p.apply(&def)
		defs = append(defs, def)
	}
	return defs, nil
}

// definitionColumns describes a table staged for creation so that rows can be
// staged into it before it exists.
func definitionColumns(defs []dblib.ColumnDefinition) []dblib.Column {
	columns := make([]dblib.Column, len(defs))
	for i, d := range defs {
		columns[i] = dblib.Column{
			Name:       d.Name,
			Type:       d.Type,
			Nullable:   d.Nullable && !d.PrimaryKey,
			PrimaryKey: d.PrimaryKey,
			Unique:     d.Unique,
			Default:    d.Default,
			ForeignKey: d.ForeignKey,
		}
	}
	return columns
}

func (p ColumnPatch) apply(def *dblib.ColumnDefinition) {
	if p.Name != "" {
		def.Name = p.Name
	}
	if p.Type != "" {
		def.Type = p.Type
	}
	if p.Nullable != nil {
		def.Nullable = *p.Nullable
	}
	if p.PrimaryKey != nil {
		def.PrimaryKey = *p.PrimaryKey
	}
	if p.Unique != nil {
		def.Unique = *p.Unique
	}
	if p.Default != nil {
		def.Default = *p.Default
	}
	if p.References != nil {
		if p.References.Table == "" {
			def.ForeignKey = nil
		} else {
			def.ForeignKey = &dblib.ForeignKey{
				Schema:         p.References.Schema,
				Table:          p.References.Table,
				Column:         p.References.Column,
				ConstraintName: p.References.Name,
				OnDelete:       p.References.OnDelete,
				OnUpdate:       p.References.OnUpdate,
			}
		}
	}
}

// applyAlterPlan returns the edited column list: a deep copy of original with
// the patches applied, dropped columns removed and new columns appended.
func applyAlterPlan(original []dblib.AlterColumnDef, patches []ColumnPatch) ([]dblib.AlterColumnDef, error) {
	edited := dblib.CloneAlterColumnDefs(original)
	byName := map[string]int{}
	for i, d := range edited {
		byName[d.Name] = i
	}
	dropped := map[int]bool{}
	for _, p := range patches {
		if p.From == "" {
			if p.Name == "" || p.Type == "" {
				return nil, fmt.Errorf("new columns need a name and a type")
			}
			def := dblib.ColumnDefinition{Nullable: true}
			p.apply(&def)
			edited = append(edited, dblib.NewAlterColumn(def))
			continue
		}
		i, ok := byName[p.From]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", p.From)
		}
		if p.Drop {
			dropped[i] = true
			continue
		}
		p.apply(&edited[i].ColumnDefinition)
	}
	out := edited[:0]
	for i, d := range edited {
		if !dropped[i] {
			out = append(out, d)
		}
	}
	return out, nil
}

func indexStatement(schema, table string, ip IndexPlan) (string, error) {
	if ip.Drop != "" {
		return dblib.GenerateDropIndexSQL(schema, ip.Drop, ip.Concurrently)
	}
	return dblib.GenerateCreateIndexSQL(dblib.IndexDef{
		Name:         ip.Name,
		Schema:       schema,
		Table:        table,
		Method:       ip.Method,
		Unique:       ip.Unique,
		Concurrently: ip.Concurrently,
		Columns:      ip.Columns,
		Where:        ip.Where,
	})
}
