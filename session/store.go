// Package session persists run transcripts: a header record per run plus
// an ordered list of items keyed by (run_id, seq). Stores are append/upsert
// oriented so a resumed run can overwrite placeholder positions in place.
package session

import "context"

// Store persists runs and their transcript items.
type Store interface {
	// SaveRun upserts the run header by run id.
	SaveRun(ctx context.Context, run RunRecord) error
	// GetRun returns the run header, reporting found=false when absent.
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
	// ListRuns returns up to limit run headers, most recently updated first.
	// limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	// PutItems upserts transcript items by (run_id, seq).
	PutItems(ctx context.Context, items []ItemRecord) error
	// ListItems returns a run's items ordered by seq.
	ListItems(ctx context.Context, runID string) ([]ItemRecord, error)
	Close() error
}
