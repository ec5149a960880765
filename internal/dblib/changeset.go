package dblib

import (
	"fmt"
	"sort"
)

// ChangeKind is the type of a staged mutation.
type ChangeKind string

const (
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
	ChangeInsert ChangeKind = "insert"
	// ChangeSchema carries DDL staged into the same ordered log.
	ChangeSchema ChangeKind = "schema"
)

// Change is one staged mutation together with the SQL that applies it.
// Changes are never modified after they are appended.
type Change struct {
	Kind     ChangeKind
	Schema   string
	Table    string
	Values   Row // changed columns (update) or inserted columns (insert)
	Original Row // full pre-image of the row, empty for insert and schema
	SQL      string
	// FullRowMatch is set when the table has no primary key and the statement
	// identifies the row by every column value.
	FullRowMatch bool
}

// ChangeSet is the insertion-ordered log of staged mutations. The order is
// commit order.
type ChangeSet struct {
	changes []Change
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

// Add renders SQL for a row mutation and appends it. Staged changes are not
// deduplicated; when the same cell is edited twice both changes are logged
// and the later one wins when reconciling.
func (cs *ChangeSet) Add(kind ChangeKind, schema, table string, values, original Row, columns []Column) (Change, error) {
	var (
		sqlStr string
		err    error
	)
	switch kind {
	case ChangeUpdate:
		sqlStr, err = GenerateUpdateSQL(schema, table, values, original, columns)
	case ChangeDelete:
		sqlStr, err = GenerateDeleteSQL(schema, table, original, columns)
	case ChangeInsert:
		sqlStr, err = GenerateInsertSQL(schema, table, values)
	default:
		return Change{}, fmt.Errorf("unsupported change kind %q", kind)
	}
	if err != nil {
		return Change{}, err
	}
	ch := Change{
		Kind:         kind,
		Schema:       schema,
		Table:        table,
		Values:       values.Clone(),
		Original:     original.Clone(),
		SQL:          sqlStr,
		FullRowMatch: kind != ChangeInsert && len(primaryKeyNames(columns)) == 0,
	}
	cs.changes = append(cs.changes, ch)
	debugLog("ChangeSet.Add: %s %s\n", kind, sqlStr)
	return ch, nil
}

// AddStatement appends a pre-rendered DDL statement.
func (cs *ChangeSet) AddStatement(schema, table, sqlStr string) Change {
	ch := Change{Kind: ChangeSchema, Schema: schema, Table: table, SQL: sqlStr}
	cs.changes = append(cs.changes, ch)
	debugLog("ChangeSet.AddStatement: %s\n", sqlStr)
	return ch
}

// Changes returns a copy of the log in insertion order.
func (cs *ChangeSet) Changes() []Change {
	out := make([]Change, len(cs.changes))
	copy(out, cs.changes)
	return out
}

func (cs *ChangeSet) Len() int { return len(cs.changes) }

// Statements returns the SQL of every change in commit order.
func (cs *ChangeSet) Statements() []string {
	out := make([]string, len(cs.changes))
	for i, ch := range cs.changes {
		out[i] = ch.SQL
	}
	return out
}

// Merge appends the changes of other after those of cs, keeping both orders.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	cs.changes = append(cs.changes, other.changes...)
}

// Clear drops every staged change. Call it only after a successful commit or
// an explicit discard.
func (cs *ChangeSet) Clear() {
	cs.changes = nil
}

// CellKey addresses a cell of the displayed view.
type CellKey struct {
	Row    int
	Column string
}

// TransientEdits are same-session values typed into cells but not yet staged.
type TransientEdits map[CellKey]CellValue

// Clear removes every edit in place.
func (e TransientEdits) Clear() {
	for k := range e {
		delete(e, k)
	}
}

// ViewRow is one row of the merged view handed to the renderer.
type ViewRow struct {
	Values        Row
	PendingDelete bool
	PendingInsert bool
	// Changed lists the columns whose displayed value differs from the fetched
	// row because of a staged change or a transient edit. Every column of a
	// pending insert counts as changed.
	Changed map[string]bool
}

// Reconcile merges staged changes and transient edits over freshly fetched rows.
//
// Each fetched row receives, in log order, the values of every update change
// whose pre-image matches it, so the latest change to a cell wins. A change
// matches when every column of its pre-image equals the fetched row, or the
// row as already overlaid by earlier changes. Delete changes mark matching rows
// as pending delete; they stay in the view until the commit succeeds. Staged
// inserts follow the fetched rows. Transient edits, keyed by view index and
// column, are applied last.
func Reconcile(rows []Row, cs *ChangeSet, edits TransientEdits) []ViewRow {
	var changes []Change
	if cs != nil {
		changes = cs.changes
	}
	view := make([]ViewRow, 0, len(rows))
	for _, fetched := range rows {
		vr := ViewRow{Values: fetched.Clone(), Changed: map[string]bool{}}
		for _, ch := range changes {
			if ch.Kind != ChangeUpdate && ch.Kind != ChangeDelete {
				continue
			}
			if !ch.Original.Matches(fetched) && !ch.Original.Matches(vr.Values) {
				continue
			}
			if ch.Kind == ChangeDelete {
				vr.PendingDelete = true
				continue
			}
			for _, name := range ch.Values.Names() {
				v, _ := ch.Values.Get(name)
				vr.Values.Set(name, v)
				vr.Changed[name] = true
			}
		}
		view = append(view, vr)
	}
	for _, ch := range changes {
		if ch.Kind != ChangeInsert {
			continue
		}
		vr := ViewRow{Values: ch.Values.Clone(), PendingInsert: true, Changed: map[string]bool{}}
		for _, name := range ch.Values.Names() {
			vr.Changed[name] = true
		}
		view = append(view, vr)
	}
	keys := make([]CellKey, 0, len(edits))
	for key := range edits {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Row != keys[j].Row {
			return keys[i].Row < keys[j].Row
		}
		return keys[i].Column < keys[j].Column
	})
	for _, key := range keys {
		if key.Row < 0 || key.Row >= len(view) || view[key.Row].PendingDelete {
			continue
		}
		view[key.Row].Values.Set(key.Column, edits[key])
		view[key.Row].Changed[key.Column] = true
	}
	for i := range rows {
		for name := range view[i].Changed {
			fv, ok := rows[i].Get(name)
			cur, _ := view[i].Values.Get(name)
			if ok && ValuesEqual(fv, cur) {
				delete(view[i].Changed, name)
			}
		}
	}
	return view
}
