package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestResolveSQLiteDSN(t *testing.T) {
	dir := t.TempDir()

	dsn, err := ResolveSQLiteDSN(filepath.Join(dir, "nested", "state.db"))
	if err != nil {
		t.Fatalf("ResolveSQLiteDSN: %v", err)
	}
	if dsn != filepath.Join(dir, "nested", "state.db") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}

	// URI DSNs pass through without directory creation.
	uri := "file:memdb1?mode=memory&cache=shared"
	dsn, err = ResolveSQLiteDSN(uri)
	if err != nil {
		t.Fatalf("ResolveSQLiteDSN uri: %v", err)
	}
	if dsn != uri {
		t.Fatalf("uri dsn rewritten: %s", dsn)
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "state.db")

	sqlDB, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sqlDB.Close()

	var mode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "postgres"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
