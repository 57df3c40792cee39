package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const runFileVersion = 1

// FileStore keeps one JSON file per run under a root directory. Writes are
// atomic (temp file + rename) so a crash never leaves a half-written run.
type FileStore struct {
	root string

	mu sync.Mutex
}

type runFile struct {
	Version int          `json:"version"`
	Run     RunRecord    `json:"run"`
	Items   []ItemRecord `json:"items,omitempty"`
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) SaveRun(ctx context.Context, run RunRecord) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	run.RunID = normalizeRunID(run.RunID)
	if run.RunID == "" {
		return fmt.Errorf("missing run id")
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.runPath(run.RunID)
	if err != nil {
		return err
	}
	var file runFile
	if _, err := s.readJSONFile(path, &file); err != nil {
		return err
	}
	if run.CreatedAt.IsZero() {
		if !file.Run.CreatedAt.IsZero() {
			run.CreatedAt = file.Run.CreatedAt
		} else {
			run.CreatedAt = run.UpdatedAt
		}
	}
	file.Version = runFileVersion
	file.Run = run
	return s.writeJSONFileAtomic(path, file, 0o600)
}

func (s *FileStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return RunRecord{}, false, err
	}
	runID = normalizeRunID(runID)
	if runID == "" {
		return RunRecord{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.runPath(runID)
	if err != nil {
		return RunRecord{}, false, err
	}
	var file runFile
	ok, err := s.readJSONFile(path, &file)
	if err != nil {
		return RunRecord{}, false, err
	}
	if !ok {
		return RunRecord{}, false, nil
	}
	return file.Run, true, nil
}

func (s *FileStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.rootPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir %s: %w", s.rootPath(), err)
	}

	var runs []RunRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "run_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var file runFile
		ok, err := s.readJSONFile(filepath.Join(s.rootPath(), name), &file)
		if err != nil || !ok {
			continue
		}
		runs = append(runs, file.Run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].UpdatedAt.Equal(runs[j].UpdatedAt) {
			return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *FileStore) PutItems(ctx context.Context, items []ItemRecord) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	byRun := map[string][]ItemRecord{}
	for _, item := range items {
		runID := normalizeRunID(item.RunID)
		if runID == "" {
			return fmt.Errorf("item seq %d has no run id", item.Seq)
		}
		if item.Seq < 0 {
			return fmt.Errorf("item for run %s has negative seq %d", runID, item.Seq)
		}
		item.RunID = runID
		byRun[runID] = append(byRun[runID], item)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for runID, batch := range byRun {
		if err := s.putItemsLocked(runID, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) putItemsLocked(runID string, batch []ItemRecord) error {
	path, err := s.runPath(runID)
	if err != nil {
		return err
	}
	var file runFile
	if _, err := s.readJSONFile(path, &file); err != nil {
		return err
	}
	if file.Version == 0 {
		file.Version = runFileVersion
	}
	if file.Run.RunID == "" {
		file.Run.RunID = runID
	}

	bySeq := make(map[int]ItemRecord, len(file.Items)+len(batch))
	for _, item := range file.Items {
		bySeq[item.Seq] = item
	}
	now := time.Now().UTC()
	for _, item := range batch {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		bySeq[item.Seq] = item
	}

	merged := make([]ItemRecord, 0, len(bySeq))
	for _, item := range bySeq {
		merged = append(merged, item)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })
	file.Items = merged
	return s.writeJSONFileAtomic(path, file, 0o600)
}

func (s *FileStore) ListItems(ctx context.Context, runID string) ([]ItemRecord, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	runID = normalizeRunID(runID)
	if runID == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.runPath(runID)
	if err != nil {
		return nil, err
	}
	var file runFile
	ok, err := s.readJSONFile(path, &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	items := make([]ItemRecord, len(file.Items))
	copy(items, file.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) rootPath() string {
	root := strings.TrimSpace(s.root)
	if root == "" {
		return "sessions"
	}
	return filepath.Clean(root)
}

func (s *FileStore) runPath(runID string) (string, error) {
	if strings.ContainsAny(runID, "/\\") || strings.Contains(runID, "..") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.rootPath(), "run_"+runID+".json"), nil
}

func (s *FileStore) readJSONFile(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *FileStore) writeJSONFileAtomic(path string, v any, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	// Compact, not indented: indenting would rewrite the raw item
	// payloads and they must read back byte-identical.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
