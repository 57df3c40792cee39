package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultWriteMaxBytes = 512 * 1024

// WriteFileTool writes text files, confined to BaseDir (the configured
// file_cache_dir). Absolute paths are permitted only when they resolve
// inside it.
type WriteFileTool struct {
	Enabled  bool
	MaxBytes int
	BaseDir  string
}

func NewWriteFileTool(enabled bool, maxBytes int, baseDir string) *WriteFileTool {
	if maxBytes <= 0 {
		maxBytes = defaultWriteMaxBytes
	}
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		baseDir = "/tmp/.turnstile-cache"
	}
	return &WriteFileTool{
		Enabled:  enabled,
		MaxBytes: maxBytes,
		BaseDir:  baseDir,
	}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Writes text content to a local file (overwrite or append). Writes are restricted to file_cache_dir."
}

func (t *WriteFileTool) ParameterSchema() string {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path to write. Relative paths are resolved under file_cache_dir. Absolute paths are allowed only if they resolve within file_cache_dir.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Text content to write.",
			},
			"mode": map[string]any{
				"type":        "string",
				"description": "Write mode: overwrite|append (default: overwrite).",
			},
			"mkdirs": map[string]any{
				"type":        "boolean",
				"description": "If true, creates parent directories as needed (under file_cache_dir).",
			},
		},
		"required": []string{"path", "content"},
	}
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// writeRequest is one validated write_file call.
type writeRequest struct {
	path    string
	content string
	mode    string
	mkdirs  bool
}

func parseWriteRequest(params map[string]any, maxBytes int) (writeRequest, error) {
	var req writeRequest

	req.path, _ = params["path"].(string)
	req.path = strings.TrimSpace(req.path)
	if req.path == "" {
		return req, fmt.Errorf("missing required param: path")
	}

	req.content, _ = params["content"].(string)
	if maxBytes > 0 && len(req.content) > maxBytes {
		return req, fmt.Errorf("content too large (%d bytes > %d max)", len(req.content), maxBytes)
	}

	mode, _ := params["mode"].(string)
	req.mode = strings.ToLower(strings.TrimSpace(mode))
	if req.mode == "" {
		req.mode = "overwrite"
	}
	if req.mode != "overwrite" && req.mode != "append" {
		return req, fmt.Errorf("invalid mode: %s (expected overwrite|append)", req.mode)
	}

	req.mkdirs, _ = params["mkdirs"].(bool)
	return req, nil
}

func (t *WriteFileTool) Execute(_ context.Context, params map[string]any) (string, error) {
	if !t.Enabled {
		return "", fmt.Errorf("write_file tool is disabled (enable via config: tools.write_file.enabled=true)")
	}

	req, err := parseWriteRequest(params, t.MaxBytes)
	if err != nil {
		return "", err
	}
	baseDir, path, err := resolveWritePath(t.BaseDir, req.path)
	if err != nil {
		return "", err
	}

	if req.mkdirs {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", err
			}
		}
	}

	if req.mode == "append" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", err
		}
		_, err = f.WriteString(req.content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
	} else {
		if err := os.WriteFile(path, []byte(req.content), 0o644); err != nil {
			return "", err
		}
	}

	out, _ := json.MarshalIndent(map[string]any{
		"status":   "written",
		"path":     path,
		"base_dir": baseDir,
		"bytes":    len(req.content),
		"mode":     req.mode,
	}, "", "  ")
	return string(out), nil
}

// resolveWritePath normalizes the base dir (creating it 0700, refusing
// symlinks) and confines the user path inside it.
func resolveWritePath(baseDirCfg string, userPath string) (string, string, error) {
	baseDir := strings.TrimSpace(expandHomePath(baseDirCfg))
	if baseDir == "" {
		return "", "", fmt.Errorf("file_cache_dir is not configured")
	}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(baseAbs, 0o700); err != nil {
		return "", "", err
	}
	fi, err := os.Lstat(baseAbs)
	if err != nil {
		return "", "", err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return "", "", fmt.Errorf("refusing symlink base dir: %s", baseAbs)
	}
	if !fi.IsDir() {
		return "", "", fmt.Errorf("base dir is not a directory: %s", baseAbs)
	}
	if fi.Mode().Perm() != 0o700 {
		_ = os.Chmod(baseAbs, 0o700)
	}

	userPath = expandHomePath(userPath)
	if strings.TrimSpace(userPath) == "" {
		return "", "", fmt.Errorf("missing required param: path")
	}

	candidate := userPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(baseAbs, candidate)
	}
	candAbs, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", "", err
	}
	if !isWithinDir(baseAbs, candAbs) {
		return "", "", fmt.Errorf("refusing to write outside file_cache_dir (file_cache_dir=%s path=%s)", baseAbs, candAbs)
	}
	return baseAbs, candAbs, nil
}

func isWithinDir(baseAbs string, candAbs string) bool {
	baseAbs = filepath.Clean(baseAbs)
	candAbs = filepath.Clean(candAbs)
	rel, err := filepath.Rel(baseAbs, candAbs)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
