package rollback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/engine"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/sqlparse"
)

// ErrUnavailable reports that no rollback can be generated for a statement.
// The statement itself still executes; the history entry is simply marked
// non-reversible.
var ErrUnavailable = errors.New("rollback: unavailable")

// Generator derives inverse statements from state captured strictly before
// the original statement executes.
type Generator struct {
	// MaxAffectedRows refuses rollback generation for bulk mutations
	// touching more rows than this. <= 0 disables the guard.
	MaxAffectedRows int
}

// PrepareUpdate captures the pre-image of the rows the UPDATE will touch and
// returns the restoring statement(s), joined by semicolons. The capture runs
// inside the same unit of work that will execute the update.
func (g *Generator) PrepareUpdate(ctx context.Context, uow engine.UnitOfWork, stmt sqlparse.UpdateStatement, table schema.Table) (string, error) {
	pk := table.PrimaryKey()
	if len(pk) == 0 {
		return "", fmt.Errorf("%w: table %q has no primary key", ErrUnavailable, table.Name)
	}

	if err := g.guardRowCount(ctx, uow, stmt.Table, stmt.Where); err != nil {
		return "", err
	}

	// Capture the key plus the previous value of every assigned column.
	captureCols := append([]string{}, pk...)
	for _, assignment := range stmt.Assignments {
		if !containsFold(captureCols, assignment.Column) {
			captureCols = append(captureCols, assignment.Column)
		}
	}

	columns, rows, err := uow.Query(ctx, selectSQL(stmt.Table, captureCols, stmt.Where))
	if err != nil {
		return "", fmt.Errorf("capture update pre-state: %w", err)
	}
	if len(rows) == 0 {
		// Nothing will change; an empty update needs no inverse.
		return "", nil
	}

	restored := make([]string, 0, len(rows))
	for _, row := range rows {
		byName := indexRow(columns, row)
		var sets []string
		for _, assignment := range stmt.Assignments {
			value, ok := byName[strings.ToLower(assignment.Column)]
			if !ok {
				return "", fmt.Errorf("%w: captured row missing column %q", ErrUnavailable, assignment.Column)
			}
			sets = append(sets, fmt.Sprintf("%s = %s", quoteIdent(assignment.Column), renderLiteral(value)))
		}
		where, err := pkPredicate(pk, byName)
		if err != nil {
			return "", err
		}
		restored = append(restored, fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			quoteIdent(stmt.Table), strings.Join(sets, ", "), where))
	}
	return strings.Join(restored, ";\n"), nil
}

// PrepareDelete captures the full rows the DELETE will remove and returns a
// single multi-row INSERT reproducing them.
func (g *Generator) PrepareDelete(ctx context.Context, uow engine.UnitOfWork, stmt sqlparse.DeleteStatement, table schema.Table) (string, error) {
	if len(table.Columns) == 0 {
		return "", fmt.Errorf("%w: no column metadata for table %q", ErrUnavailable, table.Name)
	}

	if err := g.guardRowCount(ctx, uow, stmt.Table, stmt.Where); err != nil {
		return "", err
	}

	captureCols := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		captureCols = append(captureCols, col.Name)
	}

	_, rows, err := uow.Query(ctx, selectSQL(stmt.Table, captureCols, stmt.Where))
	if err != nil {
		return "", fmt.Errorf("capture delete pre-state: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	quoted := make([]string, 0, len(captureCols))
	for _, col := range captureCols {
		quoted = append(quoted, quoteIdent(col))
	}
	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		literals := make([]string, 0, len(row))
		for _, value := range row {
			literals = append(literals, renderLiteral(value))
		}
		tuples = append(tuples, "("+strings.Join(literals, ", ")+")")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(stmt.Table), strings.Join(quoted, ", "), strings.Join(tuples, ", ")), nil
}

// InsertReturning rewrites a plain INSERT so executing it yields the
// generated primary-key values needed for the inverse DELETE. Fails when the
// table has no identifiable primary key.
func (g *Generator) InsertReturning(stmt sqlparse.InsertStatement, table schema.Table, insertSQL string) (string, []string, error) {
	pk := table.PrimaryKey()
	if len(pk) == 0 {
		return "", nil, fmt.Errorf("%w: table %q has no primary key", ErrUnavailable, table.Name)
	}
	quoted := make([]string, 0, len(pk))
	for _, col := range pk {
		quoted = append(quoted, quoteIdent(col))
	}
	return insertSQL + " RETURNING " + strings.Join(quoted, ", "), pk, nil
}

// BuildInsertRollback derives the DELETE keyed on the returned primary-key
// rows of an executed INSERT.
func (g *Generator) BuildInsertRollback(tableName string, pk []string, keyRows [][]any) (string, error) {
	if len(keyRows) == 0 {
		return "", fmt.Errorf("%w: insert returned no key rows", ErrUnavailable)
	}

	if len(pk) == 1 {
		literals := make([]string, 0, len(keyRows))
		for _, row := range keyRows {
			if len(row) != 1 {
				return "", fmt.Errorf("%w: expected one key column, got %d", ErrUnavailable, len(row))
			}
			literals = append(literals, renderLiteral(row[0]))
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			quoteIdent(tableName), quoteIdent(pk[0]), strings.Join(literals, ", ")), nil
	}

	predicates := make([]string, 0, len(keyRows))
	for _, row := range keyRows {
		if len(row) != len(pk) {
			return "", fmt.Errorf("%w: expected %d key columns, got %d", ErrUnavailable, len(pk), len(row))
		}
		var parts []string
		for i, col := range pk {
			parts = append(parts, fmt.Sprintf("%s = %s", quoteIdent(col), renderLiteral(row[i])))
		}
		predicates = append(predicates, "("+strings.Join(parts, " AND ")+")")
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		quoteIdent(tableName), strings.Join(predicates, " OR ")), nil
}

// guardRowCount enforces the bulk-mutation safety threshold before any
// capture work happens.
func (g *Generator) guardRowCount(ctx context.Context, uow engine.UnitOfWork, tableName, where string) error {
	if g.MaxAffectedRows <= 0 {
		return nil
	}
	query := "SELECT count(*) FROM " + quoteIdent(tableName)
	if where != "" {
		query += " WHERE " + where
	}
	_, rows, err := uow.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("count affected rows: %w", err)
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return fmt.Errorf("count affected rows: unexpected result shape")
	}
	count, err := asInt64(rows[0][0])
	if err != nil {
		return fmt.Errorf("count affected rows: %w", err)
	}
	if count > int64(g.MaxAffectedRows) {
		return fmt.Errorf("%w: statement would affect %d rows, threshold is %d",
			ErrUnavailable, count, g.MaxAffectedRows)
	}
	return nil
}

func selectSQL(tableName string, columns []string, where string) string {
	quoted := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted = append(quoted, quoteIdent(col))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(tableName))
	if where != "" {
		query += " WHERE " + where
	}
	return query
}

func pkPredicate(pk []string, byName map[string]any) (string, error) {
	var parts []string
	for _, col := range pk {
		value, ok := byName[strings.ToLower(col)]
		if !ok {
			return "", fmt.Errorf("%w: captured row missing key column %q", ErrUnavailable, col)
		}
		parts = append(parts, fmt.Sprintf("%s = %s", quoteIdent(col), renderLiteral(value)))
	}
	return strings.Join(parts, " AND "), nil
}

func indexRow(columns []string, row []any) map[string]any {
	byName := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			byName[strings.ToLower(col)] = row[i]
		}
	}
	return byName
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		var parsed int64
		if _, err := fmt.Sscan(string(v), &parsed); err != nil {
			return 0, fmt.Errorf("parse count %q: %w", string(v), err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", value)
	}
}
