package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists runs and items in two tables. Item writes are
// upserts keyed by (run_id, seq).
type SQLiteStore struct {
	dsn    string
	shared bool

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreWithDB wraps an already-open handle. The caller keeps
// ownership of the connection; Close leaves it open.
func NewSQLiteStoreWithDB(sqlDB *sql.DB) (*SQLiteStore, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("nil db handle")
	}
	s := &SQLiteStore{db: sqlDB, shared: true}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

const runColumns = `
  run_id, agent_name, status, input, final_output, error,
  turns, created_at_unix, updated_at_unix, snapshot
`

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	if s == nil {
		return fmt.Errorf("nil session store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	run.RunID = normalizeRunID(run.RunID)
	if run.RunID == "" {
		return fmt.Errorf("missing run id")
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_runs (`+runColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  agent_name = excluded.agent_name,
  status = excluded.status,
  input = excluded.input,
  final_output = excluded.final_output,
  error = excluded.error,
  turns = excluded.turns,
  updated_at_unix = excluded.updated_at_unix,
  snapshot = excluded.snapshot
`, run.RunID, strings.TrimSpace(run.AgentName), string(run.Status), run.Input, run.FinalOutput, run.Error,
		run.Turns, run.CreatedAt.Unix(), run.UpdatedAt.Unix(), run.Snapshot,
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	if s == nil {
		return RunRecord{}, false, fmt.Errorf("nil session store")
	}
	if err := s.ensureOpen(); err != nil {
		return RunRecord{}, false, err
	}
	runID = normalizeRunID(runID)
	if runID == "" {
		return RunRecord{}, false, nil
	}

	row := s.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM session_runs
WHERE run_id = ?
`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	query := `
SELECT ` + runColumns + `
FROM session_runs
ORDER BY updated_at_unix DESC, run_id ASC
`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, ok, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutItems(ctx context.Context, items []ItemRecord) error {
	if s == nil {
		return fmt.Errorf("nil session store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, item := range items {
		runID := normalizeRunID(item.RunID)
		if runID == "" {
			return fmt.Errorf("item seq %d has no run id", item.Seq)
		}
		if item.Seq < 0 {
			return fmt.Errorf("item for run %s has negative seq %d", runID, item.Seq)
		}
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO session_items (run_id, seq, kind, agent, call_id, payload, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO UPDATE SET
  kind = excluded.kind,
  agent = excluded.agent,
  call_id = excluded.call_id,
  payload = excluded.payload
`, runID, item.Seq, strings.TrimSpace(item.Kind), strings.TrimSpace(item.Agent), strings.TrimSpace(item.CallID), []byte(item.Payload), createdAt.Unix())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListItems(ctx context.Context, runID string) ([]ItemRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	runID = normalizeRunID(runID)
	if runID == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, kind, agent, call_id, payload, created_at_unix
FROM session_items
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemRecord
	for rows.Next() {
		var (
			item          ItemRecord
			payload       []byte
			createdAtUnix int64
		)
		if err := rows.Scan(&item.RunID, &item.Seq, &item.Kind, &item.Agent, &item.CallID, &payload, &createdAtUnix); err != nil {
			return nil, err
		}
		item.Payload = payload
		item.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.shared {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanRun(row interface{ Scan(dest ...any) error }) (RunRecord, bool, error) {
	var (
		rec           RunRecord
		status        string
		createdAtUnix int64
		updatedAtUnix int64
	)
	err := row.Scan(
		&rec.RunID, &rec.AgentName, &status, &rec.Input, &rec.FinalOutput, &rec.Error,
		&rec.Turns, &createdAtUnix, &updatedAtUnix, &rec.Snapshot,
	)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	rec.Status = RunStatus(status)
	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return rec, true, nil
}

func (s *SQLiteStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS session_runs (
  run_id TEXT PRIMARY KEY,
  agent_name TEXT,
  status TEXT NOT NULL,
  input TEXT,
  final_output TEXT,
  error TEXT,
  turns INTEGER NOT NULL DEFAULT 0,
  created_at_unix INTEGER NOT NULL,
  updated_at_unix INTEGER NOT NULL,
  snapshot BLOB
);
CREATE INDEX IF NOT EXISTS idx_session_runs_updated ON session_runs(updated_at_unix);
CREATE TABLE IF NOT EXISTS session_items (
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  agent TEXT,
  call_id TEXT,
  payload BLOB,
  created_at_unix INTEGER NOT NULL,
  PRIMARY KEY (run_id, seq)
);
`)
	return err
}
