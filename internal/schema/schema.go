package schema

import (
	"errors"
	"strings"
	"time"
)

// ErrUnavailable reports that schema metadata could not be read: the
// connection is down or the active database has no tables.
var ErrUnavailable = errors.New("schema: unavailable")

// Column is one column of an introspected table, in declaration order.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// Table is one introspected table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	// SampleRows holds up to the configured number of rows, stringified,
	// used only to ground translation prompts.
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// PrimaryKey returns the table's key columns in declaration order.
func (t Table) PrimaryKey() []string {
	var cols []string
	for _, col := range t.Columns {
		if col.PrimaryKey {
			cols = append(cols, col.Name)
		}
	}
	return cols
}

// Column returns the named column, matched case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

// Snapshot is an immutable point-in-time read of table metadata. It is built
// fresh per translation (or served from a short-lived cache) and never
// mutated after construction.
type Snapshot struct {
	Database   string    `json:"database"`
	Tables     []Table   `json:"tables"`
	CapturedAt time.Time `json:"captured_at"`
}

// Table returns the named table, matched case-insensitively.
func (s Snapshot) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}
