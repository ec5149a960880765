package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pgted/internal/dblib"
)

var (
	dryRun           bool
	printOnly        bool
	simpleCommit     bool
	lockTimeout      int
	statementTimeout int
	command          string
	tablesSchema     string
)

var applyCmd = &cobra.Command{
	Use:   "apply [dbname] [plan.yaml]",
	Short: "Stage a plan and commit it",
	Long: `Stage the row and schema edits of a plan file and commit them in one
transaction. With --simple the statements run one at a time without a
transaction and the first failure stops the rest.`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

var columnsCmd = &cobra.Command{
	Use:   "columns [dbname] [schema.]table",
	Short: "Show column metadata of a table",
	Args:  cobra.ExactArgs(2),
	RunE:  runColumns,
}

var tablesCmd = &cobra.Command{
	Use:   "tables [dbname] [search]",
	Short: "List tables, optionally filtered by a fuzzy search",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTables,
}

var execCmd = &cobra.Command{
	Use:   "exec [dbname]",
	Short: "Run one SQL statement",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func init() {
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the statements and roll back")
	applyCmd.Flags().BoolVar(&printOnly, "print", false, "Print the staged statements without running them")
	applyCmd.Flags().BoolVar(&simpleCommit, "simple", false, "Run statements one by one outside a transaction")
	applyCmd.Flags().IntVar(&lockTimeout, "lock-timeout", -1, "Lock timeout in milliseconds (default from settings)")
	applyCmd.Flags().IntVar(&statementTimeout, "statement-timeout", -1, "Statement timeout in milliseconds (default from settings)")

	execCmd.Flags().StringVarP(&command, "command", "c", "", "SQL command to execute")
	_ = execCmd.MarkFlagRequired("command")

	tablesCmd.Flags().StringVarP(&tablesSchema, "schema", "s", "", "Schema to list (default from connection)")

	rootCmd.AddCommand(applyCmd, columnsCmd, tablesCmd, execCmd)
}

func openConnection(ctx context.Context, name string) (*Connection, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	recordDatabase("connect")
	conn, err := connectToDatabase(ctx, config.resolveDatabase(name, connectionFlags))
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return conn, nil
}

func timeoutOr(flag, setting int) int {
	if flag >= 0 {
		return flag
	}
	return setting
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	plan, err := loadPlanFile(args[1])
	if err != nil {
		return err
	}
	conn, err := openConnection(ctx, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	exec := dblib.NewDBExecutor(conn.DB, conn.Type)
	staged, err := stagePlan(ctx, conn, exec, plan)
	if err != nil {
		return err
	}
	for _, w := range staged.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	stmts := staged.Changes.Statements()
	if len(stmts) == 0 {
		fmt.Fprintln(out, "nothing to commit")
		return nil
	}
	if printOnly {
		for _, stmt := range stmts {
			fmt.Fprintf(out, "%s;\n", stmt)
		}
		return nil
	}

	if simpleCommit {
		res, err := dblib.CommitChanges(ctx, exec, staged.Changes, nil)
		if breadcrumbs != nil {
			breadcrumbs.RecordCommit(res.Applied, err == nil, false)
		}
		if err != nil {
			return fmt.Errorf("commit stopped after %d of %d statements: %w", res.Applied, len(stmts), err)
		}
		fmt.Fprintf(out, "applied %d statements\n", res.Applied)
		return nil
	}

	outcome, err := dblib.ApplyMigration(ctx, exec, staged.Changes, nil, dblib.MigrationOptions{
		DryRun:             dryRun,
		LockTimeoutMS:      timeoutOr(lockTimeout, settings.LockTimeoutMS),
		StatementTimeoutMS: timeoutOr(statementTimeout, settings.StatementTimeoutMS),
	})
	if err != nil {
		return err
	}
	if breadcrumbs != nil {
		for _, sr := range outcome.Statements {
			breadcrumbs.RecordStatement(sr.SQL, sr.OK, sr.DurationMS)
		}
		breadcrumbs.RecordCommit(len(stmts), outcome.Committed, outcome.DryRun)
	}
	printMigrationResult(out, outcome.MigrationResult)
	if f := outcome.FirstFailure(); f != nil {
		return fmt.Errorf("migration rolled back: %w", f.Error)
	}
	return nil
}

func printMigrationResult(out io.Writer, result *dblib.MigrationResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tMS\tSQL")
	for i, sr := range result.Statements {
		status := "ok"
		if !sr.OK {
			status = "error"
		}
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%s\n", i+1, status, sr.DurationMS, oneLine(sr.SQL))
		if sr.Error != nil {
			fmt.Fprintf(w, "\t\t\t%v\n", sr.Error)
			if sr.Error.Detail != "" {
				fmt.Fprintf(w, "\t\t\tDETAIL: %s\n", sr.Error.Detail)
			}
			if sr.Error.Hint != "" {
				fmt.Fprintf(w, "\t\t\tHINT: %s\n", sr.Error.Hint)
			}
		}
	}
	w.Flush()

	switch {
	case result.Committed:
		fmt.Fprintf(out, "committed %d statements in %.1f ms\n", len(result.Statements), result.DurationMS)
	case result.DryRun && result.OK:
		fmt.Fprintln(out, "dry run succeeded, rolled back")
	default:
		fmt.Fprintln(out, "rolled back")
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitTableName splits "schema.table"; the schema is empty when absent.
func splitTableName(name string) (string, string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func runColumns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, err := openConnection(ctx, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	schema, table := splitTableName(args[1])
	if schema == "" {
		schema = conn.Schema
	}
	columns, err := dblib.LoadTableColumns(ctx, conn.DB, conn.Type, schema, table)
	if errors.Is(err, dblib.ErrTableNotFound) {
		return suggestTable(ctx, conn, schema, table, err)
	}
	if err != nil {
		return err
	}
	printColumns(cmd.OutOrStdout(), columns)
	if w := dblib.NewSession(schema, table, columns).KeyWarning(); w != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}

func printColumns(out io.Writer, columns []dblib.Column) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tNULL\tKEY\tDEFAULT\tREFERENCES")
	for _, c := range columns {
		null := "NO"
		if c.Nullable {
			null = "YES"
		}
		key := ""
		switch {
		case c.PrimaryKey:
			key = "PRI"
		case c.Unique:
			key = "UNI"
		}
		ref := ""
		if fk := c.ForeignKey; fk != nil {
			ref = fmt.Sprintf("%s(%s)", fk.Table, fk.Column)
			if fk.OnDelete != "" {
				ref += " ON DELETE " + fk.OnDelete
			}
		}
		typ := c.Type
		if len(c.EnumValues) > 0 {
			typ += " {" + strings.Join(c.EnumValues, ",") + "}"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Name, typ, null, key, c.Default, ref)
	}
	w.Flush()
}

func runTables(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, err := openConnection(ctx, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	schema := tablesSchema
	if schema == "" {
		schema = conn.Schema
	}
	tables, err := listTables(ctx, conn, schema)
	if err != nil {
		return err
	}
	if len(args) == 2 {
		tables = filterTables(args[1], tables)
	}
	for _, table := range tables {
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}
	return nil
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sqlStr, err := dblib.CleanSQL(command)
	if err != nil {
		return err
	}
	conn, err := openConnection(ctx, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	recordDatabase("exec")
	res, err := dblib.NewDBExecutor(conn.DB, conn.Type).Execute(ctx, sqlStr)
	if err != nil {
		return err
	}
	printQueryResult(cmd.OutOrStdout(), res)
	return nil
}

func printQueryResult(out io.Writer, res *dblib.QueryResult) {
	if len(res.Columns) == 0 {
		fmt.Fprintf(out, "%d rows affected\n", res.RowsAffected)
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	names := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		names[i] = c.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(names))
		for i, name := range names {
			v, _ := row.Get(name)
			if v.IsNull() {
				cells[i] = "NULL"
			} else {
				cells[i] = oneLine(dblib.Format(v, true))
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "(%d rows)\n", len(res.Rows))
}
