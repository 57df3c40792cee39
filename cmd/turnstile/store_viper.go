package main

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/db"
	"github.com/quailyquaily/turnstile/internal/pathutil"
	"github.com/quailyquaily/turnstile/internal/statepaths"
	"github.com/quailyquaily/turnstile/session"
)

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()

	if v := strings.TrimSpace(viper.GetString("db.driver")); v != "" {
		cfg.Driver = v
	}
	cfg.DSN = viper.GetString("db.dsn")

	if v := viper.GetInt("db.pool.max_open_conns"); v > 0 {
		cfg.Pool.MaxOpenConns = v
	}
	if v := viper.GetInt("db.pool.max_idle_conns"); v > 0 {
		cfg.Pool.MaxIdleConns = v
	}
	if v := viper.GetDuration("db.pool.conn_max_lifetime"); v > 0 {
		cfg.Pool.ConnMaxLifetime = v
	}
	if v := viper.GetInt("db.sqlite.busy_timeout_ms"); v > 0 {
		cfg.SQLite.BusyTimeoutMs = v
	}
	if viper.IsSet("db.sqlite.wal") {
		cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	}
	if viper.IsSet("db.sqlite.foreign_keys") {
		cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")
	}
	return cfg
}

// needsSharedDB reports whether the configured stores require the
// shared sqlite handle.
func needsSharedDB() bool {
	switch strings.ToLower(strings.TrimSpace(viper.GetString("session.store"))) {
	case "none", "file":
	default:
		return true
	}
	if viper.GetBool("guard.enabled") && viper.GetBool("guard.approvals.enabled") &&
		!strings.EqualFold(strings.TrimSpace(viper.GetString("guard.approvals.store")), "memory") {
		return true
	}
	return false
}

// sessionStoreFromViper picks the run/item persistence backend:
// "sqlite" (default, on the shared handle), "file", or "none".
func sessionStoreFromViper(log *slog.Logger, sqlDB *sql.DB) session.Store {
	if log == nil {
		log = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(viper.GetString("session.store"))) {
	case "none":
		return session.NewNoopStore()
	case "file":
		dir := strings.TrimSpace(viper.GetString("session.dir"))
		if dir == "" {
			dir = statepaths.DefaultRunsDir()
		}
		return session.NewFileStore(pathutil.ExpandHomePath(dir))
	default:
		if sqlDB == nil {
			log.Warn("session_store_no_db")
			return session.NewNoopStore()
		}
		st, err := session.NewSQLiteStoreWithDB(sqlDB)
		if err != nil {
			log.Warn("session_store_error", "error", err.Error())
			return session.NewNoopStore()
		}
		return st
	}
}
