package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/turnstile/tools"
)

func TestPatchApplier_CreateUpdateDelete(t *testing.T) {
	base := t.TempDir()
	p := NewPatchApplier(base, 0)
	ctx := context.Background()

	out, err := p.Execute(ctx, tools.PatchOperation{
		Type:    tools.PatchCreateFile,
		Path:    "notes.txt",
		Content: "line one\nline two\n",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "created notes.txt") {
		t.Fatalf("unexpected create output: %q", out)
	}

	// Creating the same file again fails.
	if _, err := p.Execute(ctx, tools.PatchOperation{
		Type:    tools.PatchCreateFile,
		Path:    "notes.txt",
		Content: "x",
	}); err == nil {
		t.Fatal("expected error creating an existing file")
	}

	old := "line one\nline two\n"
	updated := "line one\nline 2\nline three\n"
	diff := p.MakeDiff(old, updated)
	if strings.TrimSpace(diff) == "" {
		t.Fatal("MakeDiff returned empty diff")
	}

	out, err = p.Execute(ctx, tools.PatchOperation{
		Type: tools.PatchUpdateFile,
		Path: "notes.txt",
		Diff: diff,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "updated notes.txt") {
		t.Fatalf("unexpected update output: %q", out)
	}

	got, err := os.ReadFile(filepath.Join(base, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != updated {
		t.Fatalf("patched content = %q, want %q", string(got), updated)
	}

	if _, err := p.Execute(ctx, tools.PatchOperation{
		Type: tools.PatchDeleteFile,
		Path: "notes.txt",
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file gone, stat err=%v", err)
	}
}

func TestPatchApplier_RejectsEscapes(t *testing.T) {
	base := t.TempDir()
	p := NewPatchApplier(base, 0)
	ctx := context.Background()

	if _, err := p.Execute(ctx, tools.PatchOperation{
		Type:    tools.PatchCreateFile,
		Path:    "../escape.txt",
		Content: "x",
	}); err == nil {
		t.Fatal("expected traversal rejection")
	}

	outside := filepath.Join(t.TempDir(), "outside.txt")
	if _, err := p.Execute(ctx, tools.PatchOperation{
		Type:    tools.PatchCreateFile,
		Path:    outside,
		Content: "x",
	}); err == nil {
		t.Fatal("expected out-of-base rejection")
	}
}

func TestPatchApplier_UpdateMissingFile(t *testing.T) {
	p := NewPatchApplier(t.TempDir(), 0)
	diff := p.MakeDiff("a\n", "b\n")

	_, err := p.Execute(context.Background(), tools.PatchOperation{
		Type: tools.PatchUpdateFile,
		Path: "missing.txt",
		Diff: diff,
	})
	if err == nil {
		t.Fatal("expected error updating a missing file")
	}
}
