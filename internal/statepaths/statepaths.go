// Package statepaths resolves where turnstile keeps local state
// (sqlite database, audit log, run files). A single env override keeps
// tests and multi-profile setups away from the real home directory.
package statepaths

import (
	"os"
	"path/filepath"
	"strings"
)

const envStateDir = "TURNSTILE_STATE_DIR"

// FileStateDir returns the directory for file-backed state. Resolution
// order: $TURNSTILE_STATE_DIR, then ~/.turnstile, then ".turnstile"
// relative to the working directory when no home is available.
func FileStateDir() string {
	if dir := strings.TrimSpace(os.Getenv(envStateDir)); dir != "" {
		return filepath.Clean(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".turnstile"
	}
	return filepath.Join(home, ".turnstile")
}

// DefaultDBPath returns the default sqlite database path.
func DefaultDBPath() string {
	return filepath.Join(FileStateDir(), "turnstile.db")
}

// DefaultAuditPath returns the default guard audit log path.
func DefaultAuditPath() string {
	return filepath.Join(FileStateDir(), "guard_audit.jsonl")
}

// DefaultRunsDir returns the default directory for the file-backed
// session store.
func DefaultRunsDir() string {
	return filepath.Join(FileStateDir(), "runs")
}
