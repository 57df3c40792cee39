package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/quailyquaily/turnstile/tools"
)

// PatchApplier applies create/update/delete patch operations to files
// under BaseDir. Update diffs use the diff-match-patch text format.
type PatchApplier struct {
	BaseDir  string
	MaxBytes int

	dmp *diffmatchpatch.DiffMatchPatch
}

func NewPatchApplier(baseDir string, maxBytes int) *PatchApplier {
	if maxBytes <= 0 {
		maxBytes = 1024 * 1024
	}
	return &PatchApplier{
		BaseDir:  strings.TrimSpace(baseDir),
		MaxBytes: maxBytes,
		dmp:      diffmatchpatch.New(),
	}
}

func (p *PatchApplier) Name() string { return "apply_patch" }

func (p *PatchApplier) Execute(_ context.Context, op tools.PatchOperation) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil patch applier")
	}
	target, err := p.resolvePath(op.Path)
	if err != nil {
		return "", err
	}

	switch op.Type {
	case tools.PatchCreateFile:
		return p.createFile(target, op)
	case tools.PatchUpdateFile:
		return p.updateFile(target, op)
	case tools.PatchDeleteFile:
		return p.deleteFile(target, op)
	default:
		return "", fmt.Errorf("unsupported patch operation type: %q", op.Type)
	}
}

func (p *PatchApplier) createFile(target string, op tools.PatchOperation) (string, error) {
	content := op.Content
	if content == "" && op.Diff != "" {
		// Some models emit creates as a diff against an empty file.
		patched, err := p.applyDiff("", op.Diff)
		if err != nil {
			return "", fmt.Errorf("create_file diff for %s: %w", op.Path, err)
		}
		content = patched
	}
	if p.MaxBytes > 0 && len(content) > p.MaxBytes {
		return "", fmt.Errorf("create_file content too large (%d bytes > %d max)", len(content), p.MaxBytes)
	}
	if _, err := os.Lstat(target); err == nil {
		return "", fmt.Errorf("create_file target already exists: %s", op.Path)
	}
	if dir := filepath.Dir(target); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("created %s (%d bytes)", op.Path, len(content)), nil
}

func (p *PatchApplier) updateFile(target string, op tools.PatchOperation) (string, error) {
	if strings.TrimSpace(op.Diff) == "" {
		return "", fmt.Errorf("update_file requires a diff")
	}
	old, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("update_file target: %w", err)
	}
	patched, err := p.applyDiff(string(old), op.Diff)
	if err != nil {
		return "", fmt.Errorf("update_file diff for %s: %w", op.Path, err)
	}
	if p.MaxBytes > 0 && len(patched) > p.MaxBytes {
		return "", fmt.Errorf("update_file result too large (%d bytes > %d max)", len(patched), p.MaxBytes)
	}
	if err := os.WriteFile(target, []byte(patched), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("updated %s (%d -> %d bytes)", op.Path, len(old), len(patched)), nil
}

func (p *PatchApplier) deleteFile(target string, op tools.PatchOperation) (string, error) {
	fi, err := os.Lstat(target)
	if err != nil {
		return "", fmt.Errorf("delete_file target: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("delete_file target is a directory: %s", op.Path)
	}
	if err := os.Remove(target); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %s", op.Path), nil
}

func (p *PatchApplier) applyDiff(old, diff string) (string, error) {
	patches, err := p.dmp.PatchFromText(diff)
	if err != nil {
		return "", fmt.Errorf("invalid patch text: %w", err)
	}
	if len(patches) == 0 {
		return "", fmt.Errorf("patch text contains no hunks")
	}
	patched, applied := p.dmp.PatchApply(patches, old)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("hunk %d/%d did not apply", i+1, len(applied))
		}
	}
	return patched, nil
}

// MakeDiff renders the patch text for an old→new content transition.
// Exposed so callers can build diffs the applier round-trips.
func (p *PatchApplier) MakeDiff(old, updated string) string {
	if p == nil || p.dmp == nil {
		return ""
	}
	diffs := p.dmp.DiffMain(old, updated, false)
	diffs = p.dmp.DiffCleanupSemantic(diffs)
	patches := p.dmp.PatchMake(old, diffs)
	return p.dmp.PatchToText(patches)
}

func (p *PatchApplier) resolvePath(rawPath string) (string, error) {
	rawPath = strings.TrimSpace(rawPath)
	if rawPath == "" {
		return "", fmt.Errorf("patch operation is missing path")
	}
	if containsDotDot(rawPath) {
		return "", fmt.Errorf("path traversal not allowed: %s", rawPath)
	}

	base := expandHomePath(p.BaseDir)
	if base == "" {
		// No base restriction configured: absolute paths only, so the
		// operation is at least unambiguous.
		if !filepath.IsAbs(rawPath) {
			return "", fmt.Errorf("relative patch path %q requires a configured base dir", rawPath)
		}
		return filepath.Clean(rawPath), nil
	}

	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	var candidate string
	if filepath.IsAbs(rawPath) {
		candidate = filepath.Clean(rawPath)
	} else {
		candidate = filepath.Join(baseAbs, rawPath)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}
	if !isWithinDir(baseAbs, candAbs) {
		return "", fmt.Errorf("refusing to patch outside base dir (base=%s path=%s)", baseAbs, candAbs)
	}
	return candAbs, nil
}
