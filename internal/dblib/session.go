package dblib

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoPrimaryKey is returned when a session requires row identity by primary
// key and the table has none.
var ErrNoPrimaryKey = errors.New("table has no primary key")

// Session is the editing context of one table view. It owns the column
// metadata, the staged change log and the transient cell edits; the engine
// keeps no state outside of it.
type Session struct {
	Schema  string
	Table   string
	Columns []Column
	Changes *ChangeSet
	Edits   TransientEdits

	// RequireKey refuses updates and deletes on tables without a primary key
	// instead of falling back to whole-row matching.
	RequireKey bool
}

func NewSession(schema, table string, columns []Column) *Session {
	return &Session{
		Schema:  schema,
		Table:   table,
		Columns: columns,
		Changes: NewChangeSet(),
		Edits:   TransientEdits{},
	}
}

// Refresh replaces the column metadata wholesale, e.g. after a committed
// migration. Staged changes are kept.
func (s *Session) Refresh(columns []Column) {
	s.Columns = columns
}

// KeyWarning describes the row identity risk of the current table, or returns
// "" when rows are identified by a primary key.
func (s *Session) KeyWarning() string {
	if len(primaryKeyNames(s.Columns)) > 0 {
		return ""
	}
	return fmt.Sprintf("%s has no primary key: rows are matched on every column and duplicates cannot be told apart", s.Table)
}

func (s *Session) column(name string) (Column, error) {
	c, ok := columnByName(s.Columns, name)
	if !ok {
		return Column{}, fmt.Errorf("unknown column %q in %s", name, s.Table)
	}
	return c, nil
}

func (s *Session) checkKey() error {
	if s.RequireKey && len(primaryKeyNames(s.Columns)) == 0 {
		return fmt.Errorf("%s: %w", s.Table, ErrNoPrimaryKey)
	}
	return nil
}

// StageUpdate parses text for column and stages an update of original.
func (s *Session) StageUpdate(original Row, column, text string) (Change, error) {
	c, err := s.column(column)
	if err != nil {
		return Change{}, err
	}
	values := NewRow()
	values.Set(column, Parse(text, c.Type))
	return s.StageValues(original, values)
}

// StageValues stages an update of original to the already typed values.
func (s *Session) StageValues(original Row, values Row) (Change, error) {
	if err := s.checkKey(); err != nil {
		return Change{}, err
	}
	for _, name := range values.Names() {
		if _, err := s.column(name); err != nil {
			return Change{}, err
		}
	}
	return s.Changes.Add(ChangeUpdate, s.Schema, s.Table, values, original, s.Columns)
}

func (s *Session) StageDelete(original Row) (Change, error) {
	if err := s.checkKey(); err != nil {
		return Change{}, err
	}
	return s.Changes.Add(ChangeDelete, s.Schema, s.Table, Row{}, original, s.Columns)
}

// StageInsert parses the typed text of each column and stages an insert.
// Columns are emitted in table order; columns left out take their default.
func (s *Session) StageInsert(texts map[string]string) (Change, error) {
	for name := range texts {
		if _, err := s.column(name); err != nil {
			return Change{}, err
		}
	}
	values := NewRow()
	for _, c := range s.Columns {
		if text, ok := texts[c.Name]; ok {
			values.Set(c.Name, Parse(text, c.Type))
		}
	}
	return s.Changes.Add(ChangeInsert, s.Schema, s.Table, values, Row{}, s.Columns)
}

// StageSchema stages a DDL statement in the same ordered log as row changes.
func (s *Session) StageSchema(sqlStr string) Change {
	return s.Changes.AddStatement(s.Schema, s.Table, sqlStr)
}

// StageAlter diffs the column definitions and stages every resulting
// statement. It returns the number of statements staged.
func (s *Session) StageAlter(original, edited []AlterColumnDef, newName string) (int, error) {
	stmts, err := GenerateAlterTableSQL(s.Schema, s.Table, original, edited, newName)
	if err != nil {
		return 0, err
	}
	for _, stmt := range stmts {
		s.StageSchema(stmt)
	}
	return len(stmts), nil
}

// SetEdit records a transient edit for the cell at rowIdx of the merged view.
func (s *Session) SetEdit(rowIdx int, column, text string) error {
	c, err := s.column(column)
	if err != nil {
		return err
	}
	s.Edits[CellKey{Row: rowIdx, Column: column}] = Parse(text, c.Type)
	return nil
}

// SaveEdits turns the transient edits on fetched rows into staged updates,
// one per row, and removes them from the edit buffer. Edits on rows pending
// deletion are dropped without staging anything. The pre-image of each
// update is the row as it will look once earlier staged changes have run.
func (s *Session) SaveEdits(rows []Row) ([]Change, error) {
	view := Reconcile(rows, s.Changes, nil)
	byRow := map[int][]string{}
	for key := range s.Edits {
		byRow[key.Row] = append(byRow[key.Row], key.Column)
	}
	indexes := make([]int, 0, len(byRow))
	for idx := range byRow {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var staged []Change
	for _, idx := range indexes {
		if idx < 0 || idx >= len(rows) {
			return staged, fmt.Errorf("row %d: edits on pending inserts cannot be saved", idx)
		}
		cols := byRow[idx]
		if view[idx].PendingDelete {
			for _, c := range cols {
				delete(s.Edits, CellKey{Row: idx, Column: c})
			}
			continue
		}
		sort.Strings(cols)
		values := NewRow()
		for _, c := range cols {
			values.Set(c, s.Edits[CellKey{Row: idx, Column: c}])
		}
		ch, err := s.StageValues(view[idx].Values, values)
		if err != nil && !errors.Is(err, ErrNoChanges) {
			return staged, fmt.Errorf("row %d: %w", idx, err)
		}
		if err == nil {
			staged = append(staged, ch)
		}
		for _, c := range cols {
			delete(s.Edits, CellKey{Row: idx, Column: c})
		}
	}
	return staged, nil
}

// View merges the staged log and transient edits over freshly fetched rows.
func (s *Session) View(rows []Row) []ViewRow {
	return Reconcile(rows, s.Changes, s.Edits)
}

// Commit runs the staged statements one by one through exec.
func (s *Session) Commit(ctx context.Context, exec StatementExecutor) (*CommitResult, error) {
	return CommitChanges(ctx, exec, s.Changes, s.Edits)
}

// Migrate submits the staged statements as one batch through exec.
func (s *Session) Migrate(ctx context.Context, exec MigrationExecutor, opts MigrationOptions) (*MigrationOutcome, error) {
	return ApplyMigration(ctx, exec, s.Changes, s.Edits, opts)
}

// Discard drops every staged change and transient edit.
func (s *Session) Discard() {
	s.Changes.Clear()
	s.Edits.Clear()
}
