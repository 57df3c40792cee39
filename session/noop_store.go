package session

import "context"

// NoopStore discards everything. It is the default when persistence is off.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveRun(_ context.Context, _ RunRecord) error { return nil }

func (s *NoopStore) GetRun(_ context.Context, _ string) (RunRecord, bool, error) {
	return RunRecord{}, false, nil
}

func (s *NoopStore) ListRuns(_ context.Context, _ int) ([]RunRecord, error) { return nil, nil }

func (s *NoopStore) PutItems(_ context.Context, _ []ItemRecord) error { return nil }

func (s *NoopStore) ListItems(_ context.Context, _ string) ([]ItemRecord, error) { return nil, nil }

func (s *NoopStore) Close() error { return nil }
