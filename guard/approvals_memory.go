package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryApprovalStore keeps approval records in memory. Used by tests
// and by runs that opt out of sqlite persistence.
type MemoryApprovalStore struct {
	mu   sync.RWMutex
	recs map[string]ApprovalRecord
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{recs: make(map[string]ApprovalRecord)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, rec ApprovalRecord) (string, error) {
	_ = ctx
	if s == nil {
		return "", fmt.Errorf("nil approval store")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(defaultApprovalTTL)
	}
	rec.Status = ApprovalPending

	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = "apr_" + randHex(12)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	_ = ctx
	if s == nil {
		return ApprovalRecord{}, false, fmt.Errorf("nil approval store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRecord{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	return rec, ok, nil
}

func (s *MemoryApprovalStore) GetByCall(ctx context.Context, toolName, callID string) (ApprovalRecord, bool, error) {
	_ = ctx
	if s == nil {
		return ApprovalRecord{}, false, fmt.Errorf("nil approval store")
	}
	toolName, callID = normalizeCallKey(toolName, callID)
	if toolName == "" && callID == "" {
		return ApprovalRecord{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  ApprovalRecord
		found bool
	)
	for _, rec := range s.recs {
		if strings.TrimSpace(rec.ToolName) != toolName || strings.TrimSpace(rec.CallID) != callID {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context, runID string) ([]ApprovalRecord, error) {
	_ = ctx
	if s == nil {
		return nil, fmt.Errorf("nil approval store")
	}
	runID = strings.TrimSpace(runID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ApprovalRecord
	for _, rec := range s.recs {
		if rec.Status != ApprovalPending {
			continue
		}
		if runID != "" && strings.TrimSpace(rec.RunID) != runID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryApprovalStore) AttachResumeState(ctx context.Context, id string, state []byte) error {
	_ = ctx
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing approval id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.ResumeState = state
	s.recs[id] = rec
	return nil
}

func (s *MemoryApprovalStore) Resolve(ctx context.Context, id string, status ApprovalStatus, actor string, comment string) error {
	_ = ctx
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing approval id")
	}
	switch status {
	case ApprovalApproved, ApprovalRejected:
	default:
		return fmt.Errorf("invalid approval status: %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != ApprovalPending {
		return fmt.Errorf("approval %s already resolved (%s)", id, rec.Status)
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Actor = strings.TrimSpace(actor)
	rec.Comment = strings.TrimSpace(comment)
	rec.ResolvedAt = &now
	s.recs[id] = rec
	return nil
}
