package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect selects the metadata queries used during introspection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
	DialectSQLite   Dialect = "sqlite"
)

// Introspector reads table and column metadata from a live database. It only
// ever issues read-only metadata queries.
type Introspector struct {
	db         *sql.DB
	dialect    Dialect
	database   string
	sampleRows int
}

// NewIntrospector builds an introspector over an already-connected pool.
// sampleRows > 0 additionally captures that many rows per table for prompt
// grounding.
func NewIntrospector(db *sql.DB, dialect Dialect, database string, sampleRows int) (*Introspector, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	switch dialect {
	case DialectPostgres, DialectDuckDB, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &Introspector{db: db, dialect: dialect, database: database, sampleRows: sampleRows}, nil
}

// Snapshot captures current table metadata. It fails with ErrUnavailable when
// the connection is down or the database holds zero tables.
func (in *Introspector) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := in.db.PingContext(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	var (
		tables []Table
		err    error
	)
	if in.dialect == DialectSQLite {
		tables, err = in.sqliteTables(ctx)
	} else {
		tables, err = in.informationSchemaTables(ctx)
	}
	if err != nil {
		return Snapshot{}, err
	}
	if len(tables) == 0 {
		return Snapshot{}, fmt.Errorf("%w: database has no tables", ErrUnavailable)
	}

	if in.sampleRows > 0 {
		for i := range tables {
			samples, err := in.captureSamples(ctx, tables[i])
			if err != nil {
				// Samples only enrich prompts; a failure here must not block
				// translation.
				continue
			}
			tables[i].SampleRows = samples
		}
	}

	return Snapshot{
		Database:   in.database,
		Tables:     tables,
		CapturedAt: time.Now().UTC(),
	}, nil
}

const columnsQuery = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = current_schema() AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

const primaryKeysQuery = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema()
ORDER BY tc.table_name, kcu.ordinal_position`

func (in *Introspector) informationSchemaTables(ctx context.Context) ([]Table, error) {
	rows, err := in.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: list columns: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, Table{Name: tableName})
		}
		tables[pos].Columns = append(tables[pos].Columns, Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	pkRows, err := in.db.QueryContext(ctx, primaryKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: list primary keys: %v", ErrUnavailable, err)
	}
	defer func() { _ = pkRows.Close() }()

	for pkRows.Next() {
		var tableName, columnName string
		if err := pkRows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("scan primary key row: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			continue
		}
		for i := range tables[pos].Columns {
			if strings.EqualFold(tables[pos].Columns[i].Name, columnName) {
				tables[pos].Columns[i].PrimaryKey = true
			}
		}
	}
	if err := pkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key rows: %w", err)
	}
	return tables, nil
}

func (in *Introspector) sqliteTables(ctx context.Context) ([]Table, error) {
	rows, err := in.db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table := Table{Name: name}
		colRows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
		if err != nil {
			return nil, fmt.Errorf("%w: table_info %q: %v", ErrUnavailable, name, err)
		}
		for colRows.Next() {
			var (
				cid     int
				colName string
				colType string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				_ = colRows.Close()
				return nil, fmt.Errorf("scan table_info row: %w", err)
			}
			table.Columns = append(table.Columns, Column{
				Name:       colName,
				DataType:   colType,
				Nullable:   notNull == 0,
				PrimaryKey: pk > 0,
			})
		}
		if err := colRows.Err(); err != nil {
			_ = colRows.Close()
			return nil, fmt.Errorf("iterate table_info rows: %w", err)
		}
		_ = colRows.Close()
		tables = append(tables, table)
	}
	return tables, nil
}

func (in *Introspector) captureSamples(ctx context.Context, table Table) ([][]string, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table.Name), in.sampleRows)
	rows, err := in.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var samples [][]string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, value := range values {
			row[i] = stringifySample(value)
		}
		samples = append(samples, row)
	}
	return samples, rows.Err()
}

func stringifySample(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		if len(v) > 64 {
			return fmt.Sprintf("BINARY(%d bytes)", len(v))
		}
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
