package archive

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/history"
)

type parquetEntry struct {
	SequenceID       int64  `parquet:"sequence_id"`
	RequestText      string `parquet:"request_text"`
	SQL              string `parquet:"sql"`
	Classification   string `parquet:"classification"`
	RollbackSQL      string `parquet:"rollback_sql"`
	Status           string `parquet:"status"`
	UndoOf           int64  `parquet:"undo_of"`
	Success          bool   `parquet:"success"`
	RowsAffected     int64  `parquet:"rows_affected"`
	ErrorDetail      string `parquet:"error_detail"`
	Degraded         bool   `parquet:"degraded"`
	StartedAtUnixMs  int64  `parquet:"started_at_unix_ms"`
	FinishedAtUnixMs int64  `parquet:"finished_at_unix_ms"`
	CreatedAtUnixMs  int64  `parquet:"created_at_unix_ms"`
}

// EncodeParquet serializes history entries into a single parquet blob.
func EncodeParquet(entries []history.Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}

	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			SequenceID:       entry.SequenceID,
			RequestText:      entry.RequestText,
			SQL:              entry.SQL,
			Classification:   string(entry.Classification),
			RollbackSQL:      entry.RollbackSQL,
			Status:           string(entry.Status),
			UndoOf:           entry.UndoOf,
			Success:          entry.Record.Success,
			RowsAffected:     entry.Record.RowsAffected,
			ErrorDetail:      entry.Record.ErrorDetail,
			Degraded:         entry.Record.Degraded,
			StartedAtUnixMs:  entry.Record.StartedAt.UnixMilli(),
			FinishedAtUnixMs: entry.Record.FinishedAt.UnixMilli(),
			CreatedAtUnixMs:  entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
