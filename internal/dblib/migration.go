package dblib

import (
	"context"
	"errors"
	"fmt"
)

// QueryResult is what the statement boundary returns for ad-hoc reads and
// writes. Columns carries the result column order and declared types.
type QueryResult struct {
	Columns      []Column
	Rows         []Row
	RowsAffected int64
}

// StatementExecutor runs a single statement against the server.
type StatementExecutor interface {
	Execute(ctx context.Context, sqlStr string) (*QueryResult, error)
}

// MigrationRequest is an ordered batch of statements for the migration
// boundary. Timeouts are hints; zero leaves the server setting untouched.
type MigrationRequest struct {
	Statements         []string `json:"statements"`
	DryRun             bool     `json:"dry_run"`
	LockTimeoutMS      int      `json:"lock_timeout_ms,omitempty"`
	StatementTimeoutMS int      `json:"statement_timeout_ms,omitempty"`
}

// StatementError is a server error relayed verbatim.
type StatementError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *StatementError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
	}
	return e.Message
}

// StatementResult is the outcome of one statement of a migration.
type StatementResult struct {
	SQL          string          `json:"sql"`
	OK           bool            `json:"ok"`
	DurationMS   float64         `json:"duration_ms"`
	RowsAffected *int64          `json:"rows_affected,omitempty"`
	Error        *StatementError `json:"error,omitempty"`
}

// MigrationResult is the outcome of a migration. Committed is true only when
// the batch was applied and made durable.
type MigrationResult struct {
	OK                 bool              `json:"ok"`
	DryRun             bool              `json:"dry_run"`
	Committed          bool              `json:"committed"`
	DurationMS         float64           `json:"duration_ms"`
	Statements         []StatementResult `json:"statements"`
	LockTimeoutMS      int               `json:"lock_timeout_ms"`
	StatementTimeoutMS int               `json:"statement_timeout_ms"`
}

// FirstFailure returns the first failed statement, or nil.
func (r *MigrationResult) FirstFailure() *StatementResult {
	for i := range r.Statements {
		if !r.Statements[i].OK {
			return &r.Statements[i]
		}
	}
	return nil
}

// MigrationExecutor runs an ordered batch, typically inside one transaction.
type MigrationExecutor interface {
	ExecuteMigration(ctx context.Context, req MigrationRequest) (*MigrationResult, error)
}

// CommitFailure describes the statement that stopped a commit.
type CommitFailure struct {
	Index int
	SQL   string
	Err   *StatementError
}

func (f *CommitFailure) Error() string {
	return fmt.Sprintf("statement %d failed: %v", f.Index+1, f.Err)
}

// CommitResult reports how far a sequential commit got.
type CommitResult struct {
	Applied int
	Failure *CommitFailure
}

// CommitChanges executes the staged statements one at a time, in order,
// waiting for each before submitting the next. The first failure aborts the
// rest and is returned as a *CommitFailure; statements already applied are not
// rolled back and the change set is left intact for a retry. On success the
// change set and the transient edits are cleared and the caller should refetch.
func CommitChanges(ctx context.Context, exec StatementExecutor, cs *ChangeSet, edits TransientEdits) (*CommitResult, error) {
	res := &CommitResult{}
	for i, stmt := range cs.Statements() {
		if _, err := exec.Execute(ctx, stmt); err != nil {
			res.Failure = &CommitFailure{Index: i, SQL: stmt, Err: toStatementError(err)}
			debugLog("CommitChanges: %v\n", res.Failure)
			return res, res.Failure
		}
		res.Applied++
	}
	cs.Clear()
	edits.Clear()
	return res, nil
}

// MigrationOptions carries the dry-run flag and timeout hints.
type MigrationOptions struct {
	DryRun             bool
	LockTimeoutMS      int
	StatementTimeoutMS int
}

// MigrationOutcome wraps the executor's result for the caller.
type MigrationOutcome struct {
	*MigrationResult
	// NeedsRefresh is set when the batch committed, so table and schema
	// metadata may have changed.
	NeedsRefresh bool
}

// ApplyMigration submits the staged statements as one ordered batch. Only when
// the executor reports the batch as committed are the change set and edits
// cleared; a dry run or an aborted batch leaves them intact for a retry.
func ApplyMigration(ctx context.Context, exec MigrationExecutor, cs *ChangeSet, edits TransientEdits, opts MigrationOptions) (*MigrationOutcome, error) {
	req := MigrationRequest{
		Statements:         cs.Statements(),
		DryRun:             opts.DryRun,
		LockTimeoutMS:      opts.LockTimeoutMS,
		StatementTimeoutMS: opts.StatementTimeoutMS,
	}
	if len(req.Statements) == 0 {
		return nil, fmt.Errorf("nothing to commit")
	}
	result, err := exec.ExecuteMigration(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	out := &MigrationOutcome{MigrationResult: result}
	if result.Committed {
		cs.Clear()
		edits.Clear()
		out.NeedsRefresh = true
	}
	return out, nil
}

// toStatementError relays executor errors in the structured form.
func toStatementError(err error) *StatementError {
	var se *StatementError
	if errors.As(err, &se) {
		return se
	}
	return &StatementError{Message: err.Error()}
}
