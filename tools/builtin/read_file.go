package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool reads local text files, bounded by MaxBytes. DenyPaths
// blocks specific files by basename or path suffix; AllowedDirs, when
// set, confines reads to those directories and refuses symlinks.
type ReadFileTool struct {
	MaxBytes    int64
	DenyPaths   []string
	AllowedDirs []string
}

func NewReadFileTool(maxBytes int64) *ReadFileTool {
	return &ReadFileTool{MaxBytes: maxBytes}
}

func NewReadFileToolWithDenyPaths(maxBytes int64, denyPaths []string) *ReadFileTool {
	return &ReadFileTool{MaxBytes: maxBytes, DenyPaths: denyPaths}
}

func NewReadFileToolWithOptions(maxBytes int64, denyPaths []string, allowedDirs []string) *ReadFileTool {
	return &ReadFileTool{MaxBytes: maxBytes, DenyPaths: denyPaths, AllowedDirs: allowedDirs}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Reads a local text file from disk and returns its content (truncated to a maximum size)."
}

func (t *ReadFileTool) ParameterSchema() string {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to read."},
		},
		"required": []string{"path"},
	}
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

func (t *ReadFileTool) Execute(_ context.Context, params map[string]any) (string, error) {
	path, _ := params["path"].(string)
	cleaned, err := t.checkPath(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(cleaned)
	if err != nil {
		return "", err
	}
	if t.MaxBytes > 0 && int64(len(data)) > t.MaxBytes {
		data = data[:t.MaxBytes]
	}
	return string(data), nil
}

func (t *ReadFileTool) checkPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("missing required param: path")
	}

	// Traversal must be checked on the raw path; Clean resolves ".."
	// in absolute paths and would hide it.
	if containsDotDot(path) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}

	path = expandHomePath(path)

	if offending, ok := denyPath(path, t.DenyPaths); ok {
		return "", fmt.Errorf("read_file denied for path %q (matched %q)", path, offending)
	}

	cleaned := filepath.Clean(path)
	if len(t.AllowedDirs) == 0 {
		return cleaned, nil
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !isWithinAnyDir(absPath, t.AllowedDirs) {
		return "", fmt.Errorf("read_file denied: path %q is not within any allowed directory", path)
	}

	// A symlink inside an allowed directory could point outside it, so
	// reject symlinks whenever the allowlist is active.
	fi, err := os.Lstat(cleaned)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("read_file denied: refusing symlink %q", cleaned)
	}
	return cleaned, nil
}

func containsDotDot(rawPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rawPath), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isWithinAnyDir(absPath string, allowedDirs []string) bool {
	for _, dir := range allowedDirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dirAbs, err := filepath.Abs(expandHomePath(dir))
		if err != nil {
			continue
		}
		if isWithinDir(dirAbs, absPath) {
			return true
		}
	}
	return false
}

// denyPath matches path against deny entries: a bare basename denies
// any file with that basename; a path entry denies exact and suffix
// matches plus its basename.
func denyPath(path string, denyPaths []string) (string, bool) {
	if len(denyPaths) == 0 {
		return "", false
	}
	p := filepath.ToSlash(filepath.Clean(strings.TrimSpace(path)))
	base := filepath.Base(p)

	for _, d := range denyPaths {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		dClean := filepath.ToSlash(filepath.Clean(d))

		if !strings.Contains(dClean, "/") {
			if base == dClean {
				return d, true
			}
			continue
		}

		if p == dClean || strings.HasSuffix(p, "/"+dClean) {
			return d, true
		}
		if b := filepath.Base(dClean); b != "" && base == b {
			return d, true
		}
	}
	return "", false
}
