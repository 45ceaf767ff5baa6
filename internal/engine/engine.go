package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ExecutionError wraps a failure surfaced while running a statement:
// constraint violation, syntax error at execution time, or timeout.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q: %v", e.SQL, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Record is the outcome of running one statement.
type Record struct {
	SQL          string    `json:"sql"`
	Success      bool      `json:"success"`
	RowsAffected int64     `json:"rows_affected"`
	Columns      []string  `json:"columns,omitempty"`
	Rows         [][]any   `json:"rows,omitempty"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	// Degraded marks statements that ran outside a database transaction
	// because the connection does not support one.
	Degraded   bool      `json:"degraded,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// UnitOfWork exposes the operations available inside one bounded unit of
// work. Capture queries and the primary statement share it so no other
// writer can slip between them.
type UnitOfWork interface {
	Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Engine runs statements against a singly-owned database connection.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sql.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, logger: logger, now: time.Now}
}

// Query runs a read-only statement outside any transaction.
func (e *Engine) Query(ctx context.Context, sqlText string) (Record, error) {
	record := Record{SQL: sqlText, StartedAt: e.now().UTC()}

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		record.FinishedAt = e.now().UTC()
		record.ErrorDetail = err.Error()
		return record, &ExecutionError{SQL: sqlText, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, values, err := collectRows(rows)
	record.FinishedAt = e.now().UTC()
	if err != nil {
		record.ErrorDetail = err.Error()
		return record, &ExecutionError{SQL: sqlText, Err: err}
	}
	record.Success = true
	record.Columns = columns
	record.Rows = values
	record.RowsAffected = int64(len(values))
	return record, nil
}

// Run executes fn inside one database transaction, committing only when fn
// returns nil and rolling back otherwise, so no partial effect is ever
// observable. When the connection cannot begin a transaction the unit of
// work runs degraded (directly against the pool) and Run reports it; rollback
// safety cannot be claimed in that mode.
func (e *Engine) Run(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) (degraded bool, err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.logger.WarnContext(ctx, "transaction unavailable, running degraded",
			slog.Any("error", err))
		return true, fn(ctx, poolUnit{db: e.db})
	}

	if err := fn(ctx, txUnit{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.ErrorContext(ctx, "transaction rollback failed", slog.Any("error", rbErr))
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit unit of work: %w", err)
	}
	return false, nil
}

type txUnit struct {
	tx *sql.Tx
}

func (u txUnit) Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := u.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectRows(rows)
}

func (u txUnit) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := u.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Not every driver reports affected rows; zero stands in.
		return 0, nil
	}
	return affected, nil
}

type poolUnit struct {
	db *sql.DB
}

func (u poolUnit) Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := u.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectRows(rows)
}

func (u poolUnit) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := u.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Not every driver reports affected rows; zero stands in.
		return 0, nil
	}
	return affected, nil
}

func collectRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var values [][]any
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range row {
			if b, ok := value.([]byte); ok {
				// Drivers reuse []byte buffers between Scan calls.
				copied := make([]byte, len(b))
				copy(copied, b)
				row[i] = copied
			}
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, values, nil
}
