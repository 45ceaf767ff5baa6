package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/engine"
	"github.com/querypilot/querypilot/internal/sqlparse"
)

// ErrNotFound reports a sequence id absent from the log.
var ErrNotFound = errors.New("history: entry not found")

// ErrConsistency reports a violation of history ordering or status rules.
// It marks a programming invariant failure, never an expected condition.
var ErrConsistency = errors.New("history: consistency violation")

// Status is the lifecycle state of a history entry. Entries are never
// deleted, only transitioned.
type Status string

const (
	StatusExecuted   Status = "executed"
	StatusRolledBack Status = "rolled_back"
	StatusSuperseded Status = "superseded"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusExecuted, StatusRolledBack, StatusSuperseded:
		return true
	default:
		return false
	}
}

// Entry is one executed operation: the request that produced it, the SQL
// that ran, its inverse when one could be captured, and the outcome.
type Entry struct {
	SequenceID     int64                    `json:"sequence_id"`
	RequestText    string                   `json:"request_text"`
	SQL            string                   `json:"sql"`
	Classification sqlparse.Classification  `json:"classification"`
	// RollbackSQL is empty when the operation is non-reversible.
	RollbackSQL string `json:"rollback_sql,omitempty"`
	Status      Status `json:"status"`
	// UndoOf links a synthetic rollback entry to the entry it reversed.
	UndoOf    int64         `json:"undo_of,omitempty"`
	Record    engine.Record `json:"record"`
	CreatedAt time.Time     `json:"created_at"`
}

// Reversible reports whether the entry can currently be undone.
func (e Entry) Reversible() bool {
	return e.Status == StatusExecuted && e.RollbackSQL != "" && e.UndoOf == 0
}

// Log is an append-only ordered store of entries. Sequence ids are strictly
// increasing and gap-free within one log.
type Log interface {
	// Append assigns the next sequence id and stores the entry.
	Append(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, sequenceID int64) (Entry, error)
	// List returns all entries in sequence order.
	List(ctx context.Context) ([]Entry, error)
	SetStatus(ctx context.Context, sequenceID int64, status Status) error
	// Last returns the most recent entry, or ok=false for an empty log.
	Last(ctx context.Context) (Entry, bool, error)
}

// MemoryLog is the in-process Log used when durability is not configured.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, entry Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := int64(len(l.entries)) + 1
	if entry.SequenceID != 0 && entry.SequenceID != next {
		return Entry{}, fmt.Errorf("%w: appending sequence %d, expected %d",
			ErrConsistency, entry.SequenceID, next)
	}
	entry.SequenceID = next
	if !ValidStatus(entry.Status) {
		entry.Status = StatusExecuted
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *MemoryLog) Get(_ context.Context, sequenceID int64) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sequenceID < 1 || sequenceID > int64(len(l.entries)) {
		return Entry{}, fmt.Errorf("%w: sequence %d", ErrNotFound, sequenceID)
	}
	return l.entries[sequenceID-1], nil
}

func (l *MemoryLog) List(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *MemoryLog) SetStatus(_ context.Context, sequenceID int64, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ValidStatus(status) {
		return fmt.Errorf("%w: invalid status %q", ErrConsistency, status)
	}
	if sequenceID < 1 || sequenceID > int64(len(l.entries)) {
		return fmt.Errorf("%w: sequence %d", ErrNotFound, sequenceID)
	}
	l.entries[sequenceID-1].Status = status
	return nil
}

func (l *MemoryLog) Last(context.Context) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Entry{}, false, nil
	}
	return l.entries[len(l.entries)-1], true, nil
}
