// Package db opens the shared sqlite handle used by the approval and
// session stores. Stores create their own schema on first use, so there
// is no separate migration step.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/glebarez/go-sqlite"

	"github.com/quailyquaily/turnstile/internal/pathutil"
	"github.com/quailyquaily/turnstile/internal/statepaths"
)

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = "sqlite"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		dsn, err := ResolveSQLiteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		if cfg.Pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
		}
		if cfg.Pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
		}
		if cfg.Pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
		}
		if err := applySQLitePragmas(ctx, sqlDB, cfg.SQLite); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return sqlDB, nil
	default:
		return nil, fmt.Errorf("unsupported db.driver: %s", cfg.Driver)
	}
}

// ResolveSQLiteDSN expands and defaults a sqlite path, creating its parent
// directory. DSNs in URI form ("file:...") pass through untouched.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	if dsn == "" {
		dsn = statepaths.DefaultDBPath()
	}
	dsn = pathutil.ExpandHomePath(dsn)
	dir := filepath.Dir(dsn)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create db dir %s: %w", dir, err)
		}
	}
	return dsn, nil
}

func applySQLitePragmas(ctx context.Context, sqlDB *sql.DB, cfg SQLiteConfig) error {
	if sqlDB == nil {
		return fmt.Errorf("nil sqlite db")
	}
	if cfg.WAL {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return err
		}
	}
	if cfg.BusyTimeoutMs > 0 {
		if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeoutMs)); err != nil {
			return err
		}
	}
	if cfg.ForeignKeys {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
			return err
		}
	}
	return nil
}
