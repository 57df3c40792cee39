package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	auditWriterBufSize   = 64 * 1024
	defaultAuditMaxBytes = 100 * 1024 * 1024

	rotatedSuffixLayout = "20060102-150405"
)

// JSONLAuditSink appends one JSON object per line. When the file would
// outgrow RotateMaxBytes it is renamed aside with a UTC timestamp
// suffix and a fresh file takes its place.
type JSONLAuditSink struct {
	Path           string
	RotateMaxBytes int64

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	size int64
}

func NewJSONLAuditSink(path string, rotateMaxBytes int64) (*JSONLAuditSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing jsonl path")
	}
	if rotateMaxBytes <= 0 {
		rotateMaxBytes = defaultAuditMaxBytes
	}
	s := &JSONLAuditSink{
		Path:           path,
		RotateMaxBytes: rotateMaxBytes,
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLAuditSink) Emit(ctx context.Context, e AuditEvent) error {
	_ = ctx
	if s == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line := append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeededLocked(int64(len(line))); err != nil {
		return err
	}
	if s.w == nil {
		return fmt.Errorf("audit sink is not initialized")
	}
	n, err := s.w.Write(line)
	if err != nil {
		return err
	}
	s.size += int64(n)
	return s.w.Flush()
}

func (s *JSONLAuditSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		_ = s.w.Flush()
	}
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.w = nil
	s.size = 0
	return err
}

func (s *JSONLAuditSink) openLocked() error {
	if dir := filepath.Dir(s.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.size = 0
	if st, err := f.Stat(); err == nil {
		s.size = st.Size()
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, auditWriterBufSize)
	return nil
}

// rotatedPath keeps the extension so rotated files stay recognizable:
// audit.jsonl becomes audit-20250301-100500.jsonl.
func (s *JSONLAuditSink) rotatedPath(now time.Time) string {
	ext := filepath.Ext(s.Path)
	base := strings.TrimSuffix(s.Path, ext)
	return fmt.Sprintf("%s-%s%s", base, now.UTC().Format(rotatedSuffixLayout), ext)
}

func (s *JSONLAuditSink) rotateIfNeededLocked(addBytes int64) error {
	if s.RotateMaxBytes <= 0 || s.size+addBytes <= s.RotateMaxBytes {
		return nil
	}

	if s.w != nil {
		_ = s.w.Flush()
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	s.f = nil
	s.w = nil
	s.size = 0

	// A failed rename keeps appending to the oversized file rather than
	// dropping events.
	_ = os.Rename(s.Path, s.rotatedPath(time.Now()))
	return s.openLocked()
}
