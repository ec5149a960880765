package dblib

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func TestGenerateCreateTableSQL(t *testing.T) {
	columns := []ColumnDefinition{
		{Name: "id", Type: "serial", PrimaryKey: true, Unique: true},
		{Name: "email", Type: "text", Unique: true},
		{Name: "org_id", Type: "integer", Nullable: true, ForeignKey: &ForeignKey{
			Schema: "public", Table: "orgs", Column: "id", OnDelete: "cascade", OnUpdate: NoAction,
		}},
		{Name: "created_at", Type: "timestamptz", Default: "now()"},
	}
	got, err := GenerateCreateTableSQL("public", "users", columns)
	if err != nil {
		t.Fatalf("GenerateCreateTableSQL failed: %v", err)
	}
	want := `CREATE TABLE "public"."users" (
  "id" serial PRIMARY KEY,
  "email" text NOT NULL UNIQUE,
  "org_id" integer REFERENCES "public"."orgs"("id") ON DELETE CASCADE,
  "created_at" timestamptz NOT NULL DEFAULT now()
)`
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerateCreateTableSQL_CompositeKey(t *testing.T) {
	columns := []ColumnDefinition{
		{Name: "tenant", Type: "int", PrimaryKey: true},
		{Name: "id", Type: "int", PrimaryKey: true},
		{Name: "note", Type: "text", Nullable: true},
	}
	got, err := GenerateCreateTableSQL("", "t", columns)
	if err != nil {
		t.Fatalf("GenerateCreateTableSQL failed: %v", err)
	}
	want := `CREATE TABLE "t" (
  "tenant" int,
  "id" int,
  "note" text,
  PRIMARY KEY ("tenant", "id")
)`
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerateCreateTableSQL_Errors(t *testing.T) {
	valid := []ColumnDefinition{{Name: "id", Type: "int"}}
	tests := []struct {
		name    string
		table   string
		columns []ColumnDefinition
		wantErr error
	}{
		{"empty table", " ", valid, ErrEmptyTableName},
		{"no columns", "t", nil, ErrNoColumns},
		{"missing type", "t", []ColumnDefinition{{Name: "id"}}, ErrIncompleteColumn},
		{"missing name", "t", []ColumnDefinition{{Type: "int"}}, ErrIncompleteColumn},
		{"unsafe default", "t", []ColumnDefinition{{Name: "id", Type: "int", Default: "1; DROP TABLE t"}}, ErrUnsafeSQL},
		{"unsafe type", "t", []ColumnDefinition{{Name: "id", Type: "int -- x"}}, ErrUnsafeSQL},
		{"bad action", "t", []ColumnDefinition{{Name: "id", Type: "int", ForeignKey: &ForeignKey{Table: "o", Column: "id", OnDelete: "EXPLODE"}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateCreateTableSQL("public", tt.table, tt.columns)
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func baseColumns() []Column {
	return []Column{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "email", Type: "varchar(255)", Nullable: true},
		{Name: "org_id", Type: "integer", Nullable: true, ForeignKey: &ForeignKey{Schema: "public", Table: "orgs", Column: "id"}},
		{Name: "legacy", Type: "text", Nullable: true, Default: "'x'"},
	}
}

// Scenario: renaming a column and changing its type addresses the new name
// only after the rename.
func TestGenerateAlterTableSQL_RenameThenType(t *testing.T) {
	original := NewAlterColumnDefs(baseColumns())
	edited := CloneAlterColumnDefs(original)
	edited[1].Name = "email_addr"
	edited[1].Type = "text"

	got, err := GenerateAlterTableSQL("public", "users", original, edited, "")
	if err != nil {
		t.Fatalf("GenerateAlterTableSQL failed: %v", err)
	}
	want := []string{
		`ALTER TABLE "public"."users" RENAME COLUMN "email" TO "email_addr"`,
		`ALTER TABLE "public"."users" ALTER COLUMN "email_addr" TYPE text USING "email_addr"::text`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestGenerateAlterTableSQL_FullDiff(t *testing.T) {
	original := NewAlterColumnDefs(baseColumns())
	edited := CloneAlterColumnDefs(original[:3])
	edited[1].Name = "email_addr"
	edited[1].Nullable = false
	edited[1].Default = "'none'"
	edited[1].Unique = true
	edited[2].ForeignKey = &ForeignKey{Schema: "public", Table: "teams", Column: "id", OnDelete: SetNull}
	edited = append(edited, NewAlterColumn(ColumnDefinition{Name: "created_at", Type: "timestamptz", Default: "now()"}))

	got, err := GenerateAlterTableSQL("public", "users", original, edited, "accounts")
	if err != nil {
		t.Fatalf("GenerateAlterTableSQL failed: %v", err)
	}
	want := []string{
		`ALTER TABLE "public"."users" RENAME TO "accounts"`,
		`ALTER TABLE "public"."accounts" DROP COLUMN "legacy"`,
		`ALTER TABLE "public"."accounts" RENAME COLUMN "email" TO "email_addr"`,
		`ALTER TABLE "public"."accounts" ALTER COLUMN "email_addr" SET NOT NULL`,
		`ALTER TABLE "public"."accounts" ALTER COLUMN "email_addr" SET DEFAULT 'none'`,
		`ALTER TABLE "public"."accounts" ADD UNIQUE ("email_addr")`,
		`ALTER TABLE "public"."accounts" DROP CONSTRAINT "users_org_id_fkey"`,
		`ALTER TABLE "public"."accounts" ADD FOREIGN KEY ("org_id") REFERENCES "public"."teams"("id") ON DELETE SET NULL`,
		`ALTER TABLE "public"."accounts" ADD COLUMN "created_at" timestamptz NOT NULL DEFAULT now()`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	again, err := GenerateAlterTableSQL("public", "users", original, edited, "accounts")
	if err != nil || !reflect.DeepEqual(got, again) {
		t.Error("Expected identical output on repeated calls")
	}
}

func TestGenerateAlterTableSQL_Cases(t *testing.T) {
	tests := []struct {
		name string
		edit func(orig []AlterColumnDef) []AlterColumnDef
		want []string
	}{
		{
			name: "no changes",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[0].Type = "INTEGER"
				return e
			},
			want: nil,
		},
		{
			name: "move primary key",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[0].PrimaryKey = false
				e[1].PrimaryKey = true
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP CONSTRAINT "users_pkey"`,
				`ALTER TABLE "public"."users" ADD PRIMARY KEY ("email")`,
			},
		},
		{
			name: "extend primary key with new column",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				return append(e, NewAlterColumn(ColumnDefinition{Name: "tenant_id", Type: "integer", PrimaryKey: true, Unique: true}))
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP CONSTRAINT "users_pkey"`,
				`ALTER TABLE "public"."users" ADD COLUMN "tenant_id" integer`,
				`ALTER TABLE "public"."users" ADD PRIMARY KEY ("id", "tenant_id")`,
			},
		},
		{
			name: "drop primary key column",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				return CloneAlterColumnDefs(orig[1:])
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP COLUMN "id"`,
			},
		},
		{
			name: "renamed key column keeps key",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[0].Name = "user_id"
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" RENAME COLUMN "id" TO "user_id"`,
			},
		},
		{
			name: "drop foreign key and default",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[2].ForeignKey = nil
				e[3].Default = ""
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP CONSTRAINT "users_org_id_fkey"`,
				`ALTER TABLE "public"."users" ALTER COLUMN "legacy" DROP DEFAULT`,
			},
		},
		{
			name: "named foreign key retargeted",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[2].ForeignKey = &ForeignKey{Schema: "public", Table: "orgs", Column: "id", OnUpdate: Cascade, ConstraintName: "fk_org"}
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP CONSTRAINT "users_org_id_fkey"`,
				`ALTER TABLE "public"."users" ADD CONSTRAINT "fk_org" FOREIGN KEY ("org_id") REFERENCES "public"."orgs"("id") ON UPDATE CASCADE`,
			},
		},
		{
			name: "nullable toggle",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[1].Nullable = false
				e[3].Nullable = false
				e[3].Nullable = true
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" ALTER COLUMN "email" SET NOT NULL`,
			},
		},
		{
			name: "demote key column to nullable",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[0].PrimaryKey = false
				e[0].Nullable = true
				e[1].PrimaryKey = true
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" DROP CONSTRAINT "users_pkey"`,
				`ALTER TABLE "public"."users" ALTER COLUMN "id" DROP NOT NULL`,
				`ALTER TABLE "public"."users" ADD PRIMARY KEY ("email")`,
			},
		},
		{
			name: "rename chain runs in dependency order",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				e[1].Name = "legacy"
				e[3].Name = "notes"
				return e
			},
			want: []string{
				`ALTER TABLE "public"."users" RENAME COLUMN "legacy" TO "notes"`,
				`ALTER TABLE "public"."users" RENAME COLUMN "email" TO "legacy"`,
			},
		},
		{
			name: "added nullable unique column with reference",
			edit: func(orig []AlterColumnDef) []AlterColumnDef {
				e := CloneAlterColumnDefs(orig)
				return append(e, NewAlterColumn(ColumnDefinition{
					Name: "manager_id", Type: "integer", Nullable: true, Unique: true,
					ForeignKey: &ForeignKey{Schema: "public", Table: "users", Column: "id", OnDelete: Restrict},
				}))
			},
			want: []string{
				`ALTER TABLE "public"."users" ADD COLUMN "manager_id" integer UNIQUE REFERENCES "public"."users"("id") ON DELETE RESTRICT`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := NewAlterColumnDefs(baseColumns())
			got, err := GenerateAlterTableSQL("public", "users", original, tt.edit(original), "")
			if err != nil {
				t.Fatalf("GenerateAlterTableSQL failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
			replaySchema(t, "users", original, got)
		})
	}
}

func TestGenerateAlterTableSQL_UniqueDropUsesOriginalName(t *testing.T) {
	cols := baseColumns()
	cols[1].Unique = true
	original := NewAlterColumnDefs(cols)
	edited := CloneAlterColumnDefs(original)
	edited[1].Name = "mail"
	edited[1].Unique = false

	got, err := GenerateAlterTableSQL("public", "users", original, edited, "people")
	if err != nil {
		t.Fatalf("GenerateAlterTableSQL failed: %v", err)
	}
	want := []string{
		`ALTER TABLE "public"."users" RENAME TO "people"`,
		`ALTER TABLE "public"."people" RENAME COLUMN "email" TO "mail"`,
		`ALTER TABLE "public"."people" DROP CONSTRAINT "users_email_key"`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestGenerateAlterTableSQL_Errors(t *testing.T) {
	original := NewAlterColumnDefs(baseColumns())

	if _, err := GenerateAlterTableSQL("public", "", original, original, ""); !errors.Is(err, ErrEmptyTableName) {
		t.Errorf("Expected ErrEmptyTableName, got %v", err)
	}
	if _, err := GenerateAlterTableSQL("public", "users", original, nil, ""); !errors.Is(err, ErrNoColumns) {
		t.Errorf("Expected ErrNoColumns, got %v", err)
	}

	noID := CloneAlterColumnDefs(original)
	noID[0].ID = ""
	if _, err := GenerateAlterTableSQL("public", "users", original, noID, ""); err == nil {
		t.Error("Expected error for missing id")
	}

	dup := CloneAlterColumnDefs(original)
	dup[1].ID = dup[0].ID
	if _, err := GenerateAlterTableSQL("public", "users", original, dup, ""); err == nil {
		t.Error("Expected error for duplicate id")
	}

	unsafe := CloneAlterColumnDefs(original)
	unsafe[3].Default = "'x'; DROP TABLE users"
	if _, err := GenerateAlterTableSQL("public", "users", original, unsafe, ""); !errors.Is(err, ErrUnsafeSQL) {
		t.Errorf("Expected ErrUnsafeSQL, got %v", err)
	}

	swap := CloneAlterColumnDefs(original)
	swap[1].Name, swap[3].Name = "legacy", "email"
	if _, err := GenerateAlterTableSQL("public", "users", original, swap, ""); !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("Expected ErrDuplicateColumn for swapped names, got %v", err)
	}

	cycle := CloneAlterColumnDefs(original)
	cycle[1].Name, cycle[2].Name, cycle[3].Name = "org_id", "legacy", "email"
	if _, err := GenerateAlterTableSQL("public", "users", original, cycle, ""); !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("Expected ErrDuplicateColumn for rename cycle, got %v", err)
	}

	taken := CloneAlterColumnDefs(original)
	taken[3].Name = "email"
	if _, err := GenerateAlterTableSQL("public", "users", original, taken, ""); !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("Expected ErrDuplicateColumn for a name held by a kept column, got %v", err)
	}

	clash := append(CloneAlterColumnDefs(original), NewAlterColumn(ColumnDefinition{Name: "email", Type: "text"}))
	if _, err := GenerateAlterTableSQL("public", "users", original, clash, ""); !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("Expected ErrDuplicateColumn for added name, got %v", err)
	}

	blank := CloneAlterColumnDefs(original)
	blank[1].Type = ""
	if _, err := GenerateAlterTableSQL("public", "users", original, blank, ""); !errors.Is(err, ErrIncompleteColumn) {
		t.Errorf("Expected ErrIncompleteColumn, got %v", err)
	}
}

var (
	alterPrefix    = regexp.MustCompile(`^ALTER TABLE "public"\."([^"]+)" (.*)$`)
	quotedName     = regexp.MustCompile(`"([^"]+)"`)
	columnRefAfter = regexp.MustCompile(`^(?:ALTER COLUMN |ADD UNIQUE \(|ADD FOREIGN KEY \(|ADD CONSTRAINT "[^"]+" FOREIGN KEY \()"([^"]+)"`)
)

// replaySchema applies generated statements to a model of the table and fails
// when a statement addresses a table or column that does not exist yet, or
// relaxes NOT NULL on a column that is still part of the primary key.
func replaySchema(t *testing.T, table string, original []AlterColumnDef, stmts []string) (string, map[string]bool) {
	t.Helper()
	cols := map[string]bool{}
	keys := map[string]bool{}
	for _, c := range original {
		cols[c.Name] = true
		if c.PrimaryKey {
			keys[c.Name] = true
		}
	}
	for _, stmt := range stmts {
		m := alterPrefix.FindStringSubmatch(stmt)
		if m == nil {
			t.Fatalf("unexpected statement %s", stmt)
		}
		if m[1] != table {
			t.Fatalf("%s addresses table %q, current name is %q", stmt, m[1], table)
		}
		rest := m[2]
		names := quotedName.FindAllStringSubmatch(rest, -1)
		switch {
		case strings.HasPrefix(rest, "RENAME TO "):
			table = names[0][1]
		case strings.HasPrefix(rest, "RENAME COLUMN "):
			from, to := names[0][1], names[1][1]
			if !cols[from] || cols[to] {
				t.Fatalf("%s: cannot rename %q to %q", stmt, from, to)
			}
			delete(cols, from)
			cols[to] = true
			if keys[from] {
				delete(keys, from)
				keys[to] = true
			}
		case strings.HasPrefix(rest, "DROP COLUMN "):
			if !cols[names[0][1]] {
				t.Fatalf("%s: column does not exist", stmt)
			}
			delete(cols, names[0][1])
			if keys[names[0][1]] {
				keys = map[string]bool{}
			}
		case strings.HasPrefix(rest, "ADD COLUMN "):
			if cols[names[0][1]] {
				t.Fatalf("%s: column already exists", stmt)
			}
			cols[names[0][1]] = true
		case strings.HasPrefix(rest, "ADD PRIMARY KEY "):
			if len(keys) > 0 {
				t.Fatalf("%s: table already has a primary key", stmt)
			}
			for _, n := range names {
				if !cols[n[1]] {
					t.Fatalf("%s: key column %q does not exist", stmt, n[1])
				}
				keys[n[1]] = true
			}
		case strings.HasPrefix(rest, "DROP CONSTRAINT "):
			if strings.HasSuffix(names[0][1], "_pkey") {
				keys = map[string]bool{}
			}
		default:
			ref := columnRefAfter.FindStringSubmatch(rest)
			if ref == nil {
				t.Fatalf("unrecognised statement %s", stmt)
			}
			if !cols[ref[1]] {
				t.Fatalf("%s: column %q does not exist", stmt, ref[1])
			}
			if keys[ref[1]] && strings.HasSuffix(rest, " DROP NOT NULL") {
				t.Fatalf("%s: column %q is in the primary key", stmt, ref[1])
			}
		}
	}
	return table, cols
}

func TestGenerateAlterTableSQL_OrderValid(t *testing.T) {
	edits := []func(e []AlterColumnDef) ([]AlterColumnDef, string){
		func(e []AlterColumnDef) ([]AlterColumnDef, string) {
			e[0].Name, e[1].Name = "uid", "mail"
			e[0].Type, e[1].Type = "bigint", "text"
			e[1].Unique = true
			return e, "members"
		},
		func(e []AlterColumnDef) ([]AlterColumnDef, string) {
			e = append(e[:1], e[2:]...)
			e[1].Name = "organisation"
			e[1].ForeignKey = nil
			e = append(e, NewAlterColumn(ColumnDefinition{Name: "email", Type: "citext", Unique: true}))
			return e, ""
		},
		func(e []AlterColumnDef) ([]AlterColumnDef, string) {
			e[0].PrimaryKey = false
			e[3].Name = "code"
			e[3].PrimaryKey = true
			e = append(e, NewAlterColumn(ColumnDefinition{Name: "region", Type: "text", PrimaryKey: true, Default: "'eu'"}))
			return e, "users_v2"
		},
		func(e []AlterColumnDef) ([]AlterColumnDef, string) {
			e = e[2:]
			e[0].Name = "id"
			return e, ""
		},
	}
	for i, edit := range edits {
		original := NewAlterColumnDefs(baseColumns())
		edited, newName := edit(CloneAlterColumnDefs(original))
		stmts, err := GenerateAlterTableSQL("public", "users", original, edited, newName)
		if err != nil {
			t.Fatalf("case %d: GenerateAlterTableSQL failed: %v", i, err)
		}

		table, cols := replaySchema(t, "users", original, stmts)

		wantTable := "users"
		if newName != "" {
			wantTable = newName
		}
		if table != wantTable {
			t.Errorf("case %d: final table %q, want %q", i, table, wantTable)
		}
		wantCols := map[string]bool{}
		for _, e := range edited {
			wantCols[e.Name] = true
		}
		if !reflect.DeepEqual(cols, wantCols) {
			t.Errorf("case %d: final columns %v, want %v", i, cols, wantCols)
		}
	}
}
