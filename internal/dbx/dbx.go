// Package dbx opens the target database behind a database/sql handle,
// registering the drivers the service supports.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

// Open connects to the configured target database and verifies it responds.
func Open(ctx context.Context, cfg config.TargetConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("target dsn is required")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open target db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping target db: %w", err)
	}

	return db, nil
}

// Dialect maps a driver name to the introspection dialect and the name used
// in translation prompts.
func Dialect(driver string) (schema.Dialect, string, error) {
	switch driver {
	case "pgx":
		return schema.DialectPostgres, "PostgreSQL", nil
	case "duckdb":
		return schema.DialectDuckDB, "DuckDB", nil
	case "sqlite":
		return schema.DialectSQLite, "SQLite", nil
	default:
		return "", "", fmt.Errorf("unsupported target driver %q", driver)
	}
}
