package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func auditEvent(id string) AuditEvent {
	return AuditEvent{
		EventID:    id,
		RunID:      "r1",
		ActionType: ActionFunctionCall,
		ToolName:   "deploy",
		RiskLevel:  RiskMedium,
		Decision:   DecisionAllow,
	}
}

func TestJSONLAuditSink_AppendsOneObjectPerLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := NewJSONLAuditSink(path, 0)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	defer sink.Close()

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := sink.Emit(ctx, auditEvent(id)); err != nil {
			t.Fatalf("Emit %s: %v", id, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line is not a JSON event: %v", err)
		}
		ids = append(ids, e.EventID)
	}
	if len(ids) != 3 || ids[0] != "e1" || ids[2] != "e3" {
		t.Fatalf("unexpected event order: %v", ids)
	}
}

func TestJSONLAuditSink_RotatesWhenFull(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	// Small enough that the second event forces a rotation.
	sink, err := NewJSONLAuditSink(path, 256)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	defer sink.Close()

	if err := sink.Emit(ctx, auditEvent("e1")); err != nil {
		t.Fatalf("Emit e1: %v", err)
	}
	if err := sink.Emit(ctx, auditEvent("e2")); err != nil {
		t.Fatalf("Emit e2: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if name == "audit.jsonl" {
			continue
		}
		if !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".jsonl") {
			t.Fatalf("unexpected file in audit dir: %s", name)
		}
		rotated = append(rotated, name)
	}
	if len(rotated) != 1 {
		t.Fatalf("expected one rotated file, got %v", rotated)
	}

	// The live file holds only the post-rotation event.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if !strings.Contains(string(data), `"e2"`) || strings.Contains(string(data), `"e1"`) {
		t.Fatalf("unexpected live file contents: %s", data)
	}
}

func TestJSONLAuditSink_RequiresPath(t *testing.T) {
	if _, err := NewJSONLAuditSink("  ", 0); err == nil {
		t.Fatal("expected error for empty path")
	}
}
