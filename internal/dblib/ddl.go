package dblib

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyTableName   = errors.New("table name is required")
	ErrNoColumns        = errors.New("at least one column is required")
	ErrIncompleteColumn = errors.New("column name and type are required")
	ErrDuplicateColumn  = errors.New("column name already in use")
)

var referentialActions = map[string]struct{}{
	NoAction: {}, Restrict: {}, Cascade: {}, SetNull: {}, SetDefault: {},
}

func normalizeAction(action string) string {
	return strings.ToUpper(strings.Join(strings.Fields(action), " "))
}

// referencesClause renders REFERENCES schema.table(column) with ON DELETE / ON
// UPDATE actions. NO ACTION is the server default and is omitted.
func referencesClause(fk *ForeignKey) (string, error) {
	if fk.Table == "" || fk.Column == "" {
		return "", fmt.Errorf("foreign key requires a target table and column")
	}
	var b strings.Builder
	b.WriteString("REFERENCES ")
	b.WriteString(quoteQualified(fk.Schema, fk.Table))
	b.WriteString("(")
	b.WriteString(quoteIdent(fk.Column))
	b.WriteString(")")
	for _, a := range []struct{ clause, action string }{
		{"ON DELETE", fk.OnDelete},
		{"ON UPDATE", fk.OnUpdate},
	} {
		action := normalizeAction(a.action)
		if action == "" || action == NoAction {
			continue
		}
		if _, ok := referentialActions[action]; !ok {
			return "", fmt.Errorf("unknown referential action %q", a.action)
		}
		b.WriteString(" ")
		b.WriteString(a.clause)
		b.WriteString(" ")
		b.WriteString(action)
	}
	return b.String(), nil
}

func validateDefinition(def ColumnDefinition) error {
	if strings.TrimSpace(def.Name) == "" || strings.TrimSpace(def.Type) == "" {
		return ErrIncompleteColumn
	}
	if err := checkExpression("type", def.Type); err != nil {
		return err
	}
	return checkExpression("default", def.Default)
}

// GenerateCreateTableSQL renders CREATE TABLE for columns. A single primary key
// is declared inline; several primary-key columns produce a trailing composite
// PRIMARY KEY constraint. NOT NULL and UNIQUE are implied by, and therefore
// omitted for, primary-key columns.
func GenerateCreateTableSQL(schema, table string, columns []ColumnDefinition) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", ErrEmptyTableName
	}
	if len(columns) == 0 {
		return "", ErrNoColumns
	}
	var pkCols []string
	for i, c := range columns {
		if err := validateDefinition(c); err != nil {
			return "", fmt.Errorf("column %d: %w", i+1, err)
		}
		if c.PrimaryKey {
			pkCols = append(pkCols, c.Name)
		}
	}
	inlinePK := len(pkCols) == 1

	lines := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		parts := []string{quoteIdent(c.Name), c.Type}
		if c.PrimaryKey && inlinePK {
			parts = append(parts, "PRIMARY KEY")
		}
		if !c.Nullable && !c.PrimaryKey {
			parts = append(parts, "NOT NULL")
		}
		if c.Unique && !c.PrimaryKey {
			parts = append(parts, "UNIQUE")
		}
		if d := strings.TrimSpace(c.Default); d != "" {
			parts = append(parts, "DEFAULT "+d)
		}
		if c.ForeignKey != nil {
			ref, err := referencesClause(c.ForeignKey)
			if err != nil {
				return "", fmt.Errorf("column %s: %w", c.Name, err)
			}
			parts = append(parts, ref)
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	if len(pkCols) > 1 {
		lines = append(lines, "PRIMARY KEY ("+quoteIdents(pkCols)+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteQualified(schema, table), strings.Join(lines, ",\n  ")), nil
}

func sameType(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func sameForeignKey(a, b *ForeignKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Schema == b.Schema && a.Table == b.Table && a.Column == b.Column &&
		actionOrDefault(a.OnDelete) == actionOrDefault(b.OnDelete) &&
		actionOrDefault(a.OnUpdate) == actionOrDefault(b.OnUpdate)
}

func actionOrDefault(action string) string {
	if a := normalizeAction(action); a != "" {
		return a
	}
	return NoAction
}

func indexByID(defs []AlterColumnDef, side string) (map[string]AlterColumnDef, error) {
	byID := make(map[string]AlterColumnDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("%s column %q has no id", side, d.Name)
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("%s columns share id %s", side, d.ID)
		}
		byID[d.ID] = d
	}
	return byID, nil
}

// GenerateAlterTableSQL diffs original against edited and returns the ALTER
// TABLE statements that turn one into the other, in execution order.
//
// Columns are matched by ID. The order is: table rename, dropped columns,
// column renames (a rename runs once its target name is free), then for every
// kept column (in edited order) type, nullability, default, primary key,
// unique, foreign key, then added columns. A primary-key change
// drops the old <table>_pkey once and re-adds the full key after all columns
// exist under their final names. Constraint names derived by the server use
// the names the table and column had when they were created, so drops address
// them by their original names.
func GenerateAlterTableSQL(schema, table string, original, edited []AlterColumnDef, newName string) ([]string, error) {
	if strings.TrimSpace(table) == "" {
		return nil, ErrEmptyTableName
	}
	if len(edited) == 0 {
		return nil, ErrNoColumns
	}
	origByID, err := indexByID(original, "original")
	if err != nil {
		return nil, err
	}
	editByID, err := indexByID(edited, "edited")
	if err != nil {
		return nil, err
	}
	for i, e := range edited {
		if err := validateDefinition(e.ColumnDefinition); err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
	}

	var stmts []string
	current := table
	alter := func(format string, args ...any) {
		stmts = append(stmts, "ALTER TABLE "+quoteQualified(schema, current)+" "+fmt.Sprintf(format, args...))
	}

	if n := strings.TrimSpace(newName); n != "" && n != table {
		alter("RENAME TO %s", quoteIdent(n))
		current = n
	}

	pkSurvives := false
	origPK := map[string]bool{}
	for _, o := range original {
		if o.PrimaryKey {
			origPK[o.ID] = true
			pkSurvives = true
		}
	}
	for _, o := range original {
		if _, kept := editByID[o.ID]; kept {
			continue
		}
		alter("DROP COLUMN %s", quoteIdent(o.Name))
		if o.PrimaryKey {
			// dropping a key column drops the primary key with it
			pkSurvives = false
		}
	}

	live := map[string]bool{}
	for _, o := range original {
		if _, kept := editByID[o.ID]; kept {
			live[o.Name] = true
		}
	}

	var editPK []string
	pkChanged := false
	for _, e := range edited {
		if e.PrimaryKey {
			editPK = append(editPK, e.Name)
			if !origPK[e.ID] {
				pkChanged = true
			}
		}
	}
	if len(editPK) != len(origPK) {
		pkChanged = true
	}
	pkDropped := false
	dropPK := func() {
		if pkSurvives && !pkDropped {
			alter("DROP CONSTRAINT %s", quoteIdent(table+"_pkey"))
			pkDropped = true
		}
	}

	var renames []AlterColumnDef
	for _, e := range edited {
		if o, ok := origByID[e.ID]; ok && e.Name != o.Name {
			renames = append(renames, e)
		}
	}
	// A rename waits until its target name has been vacated by an earlier one.
	// Whatever is left blocked is a swap or cycle, which would need a
	// temporary name.
	for len(renames) > 0 {
		var blocked []AlterColumnDef
		for _, e := range renames {
			if live[e.Name] {
				blocked = append(blocked, e)
				continue
			}
			from := origByID[e.ID].Name
			delete(live, from)
			live[e.Name] = true
			alter("RENAME COLUMN %s TO %s", quoteIdent(from), quoteIdent(e.Name))
		}
		if len(blocked) == len(renames) {
			e := blocked[0]
			return nil, fmt.Errorf("rename %s to %s: %w", origByID[e.ID].Name, e.Name, ErrDuplicateColumn)
		}
		renames = blocked
	}

	for _, e := range edited {
		o, ok := origByID[e.ID]
		if !ok {
			continue
		}
		col := quoteIdent(e.Name)
		if !sameType(e.Type, o.Type) {
			alter("ALTER COLUMN %s TYPE %s USING %s::%s", col, e.Type, col, e.Type)
		}
		if o.PrimaryKey && !e.PrimaryKey {
			// key columns stay NOT NULL while the constraint exists
			dropPK()
		}
		if e.Nullable != o.Nullable {
			if !e.Nullable {
				alter("ALTER COLUMN %s SET NOT NULL", col)
			} else if !e.PrimaryKey {
				alter("ALTER COLUMN %s DROP NOT NULL", col)
			}
		}
		if d := strings.TrimSpace(e.Default); d != strings.TrimSpace(o.Default) {
			if d == "" {
				alter("ALTER COLUMN %s DROP DEFAULT", col)
			} else {
				alter("ALTER COLUMN %s SET DEFAULT %s", col, d)
			}
		}
		if e.PrimaryKey != o.PrimaryKey {
			dropPK()
		}
		if e.Unique != o.Unique {
			if e.Unique {
				alter("ADD UNIQUE (%s)", col)
			} else {
				alter("DROP CONSTRAINT %s", quoteIdent(table+"_"+o.Name+"_key"))
			}
		}
		if !sameForeignKey(o.ForeignKey, e.ForeignKey) {
			if o.ForeignKey != nil {
				constraint := o.ForeignKey.ConstraintName
				if constraint == "" {
					constraint = table + "_" + o.Name + "_fkey"
				}
				alter("DROP CONSTRAINT %s", quoteIdent(constraint))
			}
			if e.ForeignKey != nil {
				ref, err := referencesClause(e.ForeignKey)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", e.Name, err)
				}
				if e.ForeignKey.ConstraintName != "" {
					alter("ADD CONSTRAINT %s FOREIGN KEY (%s) %s", quoteIdent(e.ForeignKey.ConstraintName), col, ref)
				} else {
					alter("ADD FOREIGN KEY (%s) %s", col, ref)
				}
			}
		}
	}

	if pkChanged {
		dropPK()
	}
	for _, e := range edited {
		if _, ok := origByID[e.ID]; ok {
			continue
		}
		if live[e.Name] {
			return nil, fmt.Errorf("add %s: %w", e.Name, ErrDuplicateColumn)
		}
		live[e.Name] = true
		parts := []string{"ADD COLUMN", quoteIdent(e.Name), e.Type}
		if !e.PrimaryKey {
			if !e.Nullable {
				parts = append(parts, "NOT NULL")
			}
			if e.Unique {
				parts = append(parts, "UNIQUE")
			}
		}
		if d := strings.TrimSpace(e.Default); d != "" {
			parts = append(parts, "DEFAULT "+d)
		}
		if e.ForeignKey != nil {
			ref, err := referencesClause(e.ForeignKey)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", e.Name, err)
			}
			parts = append(parts, ref)
		}
		alter("%s", strings.Join(parts, " "))
	}
	if pkChanged && len(editPK) > 0 {
		alter("ADD PRIMARY KEY (%s)", quoteIdents(editPK))
	}

	debugLog("GenerateAlterTableSQL: %s.%s -> %d statements\n", schema, table, len(stmts))
	return stmts, nil
}
