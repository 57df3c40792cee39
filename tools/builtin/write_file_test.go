package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileTool_RestrictedToBaseDir(t *testing.T) {
	base := t.TempDir()
	tool := NewWriteFileTool(true, 1024, base)

	out, err := tool.Execute(context.Background(), map[string]any{
		"path":    "a.txt",
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v (out=%q)", err, out)
	}

	b, err := os.ReadFile(filepath.Join(base, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected content: %q", string(b))
	}

	out, err = tool.Execute(context.Background(), map[string]any{
		"path":    filepath.Join(t.TempDir(), "outside.txt"),
		"content": "nope",
	})
	if err == nil {
		t.Fatalf("expected error, got nil (out=%q)", out)
	}
	if !strings.Contains(err.Error(), "file_cache_dir") {
		t.Fatalf("expected error mentioning file_cache_dir, got %v", err)
	}
}

func TestWriteFileTool_PathTraversalRejected(t *testing.T) {
	base := t.TempDir()
	tool := NewWriteFileTool(true, 1024, base)

	out, err := tool.Execute(context.Background(), map[string]any{
		"path":    "../escape.txt",
		"content": "nope",
		"mkdirs":  true,
	})
	if err == nil {
		t.Fatalf("expected error, got nil (out=%q)", out)
	}
}

func TestWriteFileTool_AppendMode(t *testing.T) {
	base := t.TempDir()
	tool := NewWriteFileTool(true, 1024, base)

	for _, chunk := range []string{"one\n", "two\n"} {
		if _, err := tool.Execute(context.Background(), map[string]any{
			"path":    "log.txt",
			"content": chunk,
			"mode":    "append",
		}); err != nil {
			t.Fatalf("append %q: %v", chunk, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(base, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "one\ntwo\n" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestWriteFileTool_ContentSizeCapped(t *testing.T) {
	tool := NewWriteFileTool(true, 8, t.TempDir())

	_, err := tool.Execute(context.Background(), map[string]any{
		"path":    "big.txt",
		"content": strings.Repeat("x", 9),
	})
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestWriteFileTool_DisabledByDefault(t *testing.T) {
	tool := NewWriteFileTool(false, 1024, t.TempDir())

	_, err := tool.Execute(context.Background(), map[string]any{
		"path":    "a.txt",
		"content": "hello",
	})
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}
