package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/sqlparse"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_entries (
    session_id    TEXT    NOT NULL,
    sequence_id   INTEGER NOT NULL,
    request_text  TEXT    NOT NULL,
    sql_text      TEXT    NOT NULL,
    classification TEXT   NOT NULL,
    rollback_sql  TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL,
    undo_of       INTEGER NOT NULL DEFAULT 0,
    success       INTEGER NOT NULL,
    rows_affected INTEGER NOT NULL,
    error_detail  TEXT    NOT NULL DEFAULT '',
    degraded      INTEGER NOT NULL DEFAULT 0,
    started_at    TEXT    NOT NULL,
    finished_at   TEXT    NOT NULL,
    created_at    TEXT    NOT NULL,
    PRIMARY KEY (session_id, sequence_id)
);`

// Store is a durable history backend on an embedded sqlite file. Each
// session owns an independent gap-free sequence within the store.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and bootstraps) the sqlite file at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	// sqlite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap history store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ForSession returns the Log view scoped to one session.
func (s *Store) ForSession(sessionID string) Log {
	return &sqliteLog{db: s.db, session: sessionID}
}

type sqliteLog struct {
	db      *sql.DB
	session string
}

func (l *sqliteLog) Append(ctx context.Context, entry Entry) (Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("append history entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_id), 0) FROM history_entries WHERE session_id = ?`,
		l.session).Scan(&last)
	if err != nil {
		return Entry{}, fmt.Errorf("append history entry: %w", err)
	}
	next := last + 1
	if entry.SequenceID != 0 && entry.SequenceID != next {
		return Entry{}, fmt.Errorf("%w: appending sequence %d, expected %d",
			ErrConsistency, entry.SequenceID, next)
	}
	entry.SequenceID = next
	if !ValidStatus(entry.Status) {
		entry.Status = StatusExecuted
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO history_entries
        (session_id, sequence_id, request_text, sql_text, classification,
         rollback_sql, status, undo_of, success, rows_affected, error_detail,
         degraded, started_at, finished_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.session, entry.SequenceID, entry.RequestText, entry.SQL,
		string(entry.Classification), entry.RollbackSQL, string(entry.Status),
		entry.UndoOf, boolToInt(entry.Record.Success), entry.Record.RowsAffected,
		entry.Record.ErrorDetail, boolToInt(entry.Record.Degraded),
		formatTime(entry.Record.StartedAt), formatTime(entry.Record.FinishedAt),
		formatTime(entry.CreatedAt))
	if err != nil {
		return Entry{}, fmt.Errorf("append history entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("append history entry: %w", err)
	}
	return entry, nil
}

const sqliteSelect = `SELECT sequence_id, request_text, sql_text, classification,
    rollback_sql, status, undo_of, success, rows_affected, error_detail,
    degraded, started_at, finished_at, created_at
    FROM history_entries WHERE session_id = ?`

func (l *sqliteLog) Get(ctx context.Context, sequenceID int64) (Entry, error) {
	row := l.db.QueryRowContext(ctx, sqliteSelect+` AND sequence_id = ?`,
		l.session, sequenceID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: sequence %d", ErrNotFound, sequenceID)
	}
	return entry, err
}

func (l *sqliteLog) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, sqliteSelect+` ORDER BY sequence_id`, l.session)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (l *sqliteLog) SetStatus(ctx context.Context, sequenceID int64, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: invalid status %q", ErrConsistency, status)
	}
	result, err := l.db.ExecContext(ctx,
		`UPDATE history_entries SET status = ? WHERE session_id = ? AND sequence_id = ?`,
		string(status), l.session, sequenceID)
	if err != nil {
		return fmt.Errorf("set history status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set history status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: sequence %d", ErrNotFound, sequenceID)
	}
	return nil
}

func (l *sqliteLog) Last(ctx context.Context) (Entry, bool, error) {
	row := l.db.QueryRowContext(ctx,
		sqliteSelect+` ORDER BY sequence_id DESC LIMIT 1`, l.session)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry                      Entry
		class, status              string
		success, degraded          int
		started, finished, created string
	)
	err := row.Scan(&entry.SequenceID, &entry.RequestText, &entry.SQL, &class,
		&entry.RollbackSQL, &status, &entry.UndoOf, &success,
		&entry.Record.RowsAffected, &entry.Record.ErrorDetail, &degraded,
		&started, &finished, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	entry.Classification = sqlparse.Classification(class)
	entry.Status = Status(status)
	entry.Record.SQL = entry.SQL
	entry.Record.Success = success != 0
	entry.Record.Degraded = degraded != 0
	if entry.Record.StartedAt, err = parseTime(started); err != nil {
		return Entry{}, err
	}
	if entry.Record.FinishedAt, err = parseTime(finished); err != nil {
		return Entry{}, err
	}
	if entry.CreatedAt, err = parseTime(created); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse history timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
