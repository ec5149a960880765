package dblib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// DBExecutor implements StatementExecutor and MigrationExecutor over a
// database/sql connection pool.
type DBExecutor struct {
	DB     *sql.DB
	DBType DatabaseType
}

func NewDBExecutor(db *sql.DB, dbType DatabaseType) *DBExecutor {
	return &DBExecutor{DB: db, DBType: dbType}
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(sqlStr string) bool {
	fields := strings.Fields(strings.ToUpper(sqlStr))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "SELECT", "WITH", "VALUES", "SHOW", "EXPLAIN", "TABLE", "PRAGMA":
		return true
	}
	for _, f := range fields {
		if f == "RETURNING" {
			return true
		}
	}
	return false
}

// Execute runs one statement outside of any explicit transaction. Statements
// that return rows are decoded with FromDriverValue using the driver's column
// type names.
func (e *DBExecutor) Execute(ctx context.Context, sqlStr string) (*QueryResult, error) {
	debugLog("Execute: %s\n", sqlStr)
	if !returnsRows(sqlStr) {
		res, err := e.DB.ExecContext(ctx, sqlStr)
		if err != nil {
			return nil, mapDriverError(err)
		}
		n, _ := res.RowsAffected()
		return &QueryResult{RowsAffected: n}, nil
	}

	rows, err := e.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, mapDriverError(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: make([]Column, len(types))}
	names := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
		col := Column{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName()), Nullable: true}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		result.Columns[i] = col
	}

	for rows.Next() {
		raw := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		values := make([]CellValue, len(raw))
		for i, v := range raw {
			values[i] = FromDriverValue(v, result.Columns[i].Type)
		}
		result.Rows = append(result.Rows, RowOf(names, values))
	}
	if err := rows.Err(); err != nil {
		return nil, mapDriverError(err)
	}
	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// ExecuteMigration runs the batch inside one transaction. Statements run in
// order and the first failure stops the batch. The transaction is rolled back
// on failure or when the request is a dry run, and committed otherwise.
func (e *DBExecutor) ExecuteMigration(ctx context.Context, req MigrationRequest) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		DryRun:             req.DryRun,
		Statements:         make([]StatementResult, 0, len(req.Statements)),
		LockTimeoutMS:      req.LockTimeoutMS,
		StatementTimeoutMS: req.StatementTimeoutMS,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := e.applyTimeouts(ctx, tx, req); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to set timeouts: %w", err)
	}

	ok := true
	for _, stmt := range req.Statements {
		sr, err := e.execInTx(ctx, tx, stmt, req.StatementTimeoutMS)
		result.Statements = append(result.Statements, sr)
		if err != nil {
			debugLog("ExecuteMigration: %q failed: %v\n", stmt, err)
			ok = false
			break
		}
	}

	if !ok || req.DryRun {
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("failed to roll back: %w", err)
		}
	} else {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", mapDriverError(err))
		}
		result.Committed = true
	}
	result.OK = ok
	result.DurationMS = durationMS(time.Since(start))
	return result, nil
}

func (e *DBExecutor) execInTx(ctx context.Context, tx *sql.Tx, stmt string, statementTimeoutMS int) (StatementResult, error) {
	sr := StatementResult{SQL: stmt}
	// postgres enforces statement_timeout itself; sqlite is interrupted
	// through the context.
	if e.DBType == SQLite && statementTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(statementTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	t0 := time.Now()
	res, err := tx.ExecContext(ctx, stmt)
	sr.DurationMS = durationMS(time.Since(t0))
	if err != nil {
		sr.Error = toStatementError(mapDriverError(err))
		return sr, sr.Error
	}
	sr.OK = true
	if n, err := res.RowsAffected(); err == nil {
		sr.RowsAffected = &n
	}
	return sr, nil
}

// applyTimeouts scopes the timeout hints to the migration transaction.
func (e *DBExecutor) applyTimeouts(ctx context.Context, tx *sql.Tx, req MigrationRequest) error {
	var stmts []string
	switch e.DBType {
	case PostgreSQL:
		if req.LockTimeoutMS > 0 {
			stmts = append(stmts, "SET LOCAL lock_timeout = "+strconv.Itoa(req.LockTimeoutMS))
		}
		if req.StatementTimeoutMS > 0 {
			stmts = append(stmts, "SET LOCAL statement_timeout = "+strconv.Itoa(req.StatementTimeoutMS))
		}
	case SQLite:
		if req.LockTimeoutMS > 0 {
			stmts = append(stmts, "PRAGMA busy_timeout = "+strconv.Itoa(req.LockTimeoutMS))
		}
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return mapDriverError(err)
		}
	}
	return nil
}

// mapDriverError converts driver errors into a StatementError carrying the
// server's code, message, detail and hint. Other errors pass through.
func mapDriverError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &StatementError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
			Hint:    pqErr.Hint,
		}
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return &StatementError{
			Code:    strconv.Itoa(int(sqliteErr.ExtendedCode)),
			Message: sqliteErr.Error(),
		}
	}
	return err
}
