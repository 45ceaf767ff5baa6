package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/querypilot/querypilot/internal/sqlparse"
)

// line is the export form of an entry: one flat JSON object per line, with
// result rows omitted. Everything written survives a read unchanged.
type line struct {
	SequenceID     int64     `json:"sequence_id"`
	RequestText    string    `json:"request_text"`
	SQL            string    `json:"sql"`
	Classification string    `json:"classification"`
	RollbackSQL    string    `json:"rollback_sql,omitempty"`
	Status         Status    `json:"status"`
	UndoOf         int64     `json:"undo_of,omitempty"`
	Success        bool      `json:"success"`
	RowsAffected   int64     `json:"rows_affected"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// WriteJSONL streams entries to w, one JSON object per line, in the order
// given.
func WriteJSONL(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(toLine(entry)); err != nil {
			return fmt.Errorf("encode entry %d: %w", entry.SequenceID, err)
		}
	}
	return nil
}

// ReadJSONL decodes a stream produced by WriteJSONL.
func ReadJSONL(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)
	var entries []Entry
	for {
		var l line
		if err := dec.Decode(&l); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, fmt.Errorf("decode entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, fromLine(l))
	}
}

func toLine(e Entry) line {
	return line{
		SequenceID:     e.SequenceID,
		RequestText:    e.RequestText,
		SQL:            e.SQL,
		Classification: string(e.Classification),
		RollbackSQL:    e.RollbackSQL,
		Status:         e.Status,
		UndoOf:         e.UndoOf,
		Success:        e.Record.Success,
		RowsAffected:   e.Record.RowsAffected,
		ErrorDetail:    e.Record.ErrorDetail,
		Degraded:       e.Record.Degraded,
		StartedAt:      e.Record.StartedAt,
		FinishedAt:     e.Record.FinishedAt,
		CreatedAt:      e.CreatedAt,
	}
}

func fromLine(l line) Entry {
	entry := Entry{
		SequenceID:     l.SequenceID,
		RequestText:    l.RequestText,
		SQL:            l.SQL,
		Classification: sqlparse.Classification(l.Classification),
		RollbackSQL:    l.RollbackSQL,
		Status:         l.Status,
		UndoOf:         l.UndoOf,
		CreatedAt:      l.CreatedAt,
	}
	entry.Record.SQL = l.SQL
	entry.Record.Success = l.Success
	entry.Record.RowsAffected = l.RowsAffected
	entry.Record.ErrorDetail = l.ErrorDetail
	entry.Record.Degraded = l.Degraded
	entry.Record.StartedAt = l.StartedAt
	entry.Record.FinishedAt = l.FinishedAt
	return entry
}
