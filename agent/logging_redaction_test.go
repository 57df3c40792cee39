package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestShouldRedactKey_NormalizesDashesAndUnderscores(t *testing.T) {
	keys := []string{
		"api_key",
		"api-key",
		"X-API-Key",
		"x_api_key",
		"Authorization",
		"set-cookie",
		"Set_Cookie",
	}
	for _, k := range keys {
		if !shouldRedactKey(k, DefaultLogOptions().RedactKeys) {
			t.Fatalf("expected key %q to be redacted", k)
		}
	}
}

func TestShouldRedactKey_LeavesPlainKeysAlone(t *testing.T) {
	for _, k := range []string{"query", "path", "url", ""} {
		if shouldRedactKey(k, DefaultLogOptions().RedactKeys) {
			t.Fatalf("expected key %q not to be redacted", k)
		}
	}
}

func TestSanitizeParams_RedactsAndTruncates(t *testing.T) {
	opts := DefaultLogOptions()
	opts.MaxFieldBytes = 16

	out := sanitizeParams(map[string]any{
		"Authorization": "Bearer abcdef",
		"query":         strings.Repeat("q", 100),
		"count":         42,
	}, opts)

	if out["Authorization"] != "[redacted]" {
		t.Fatalf("expected Authorization to be redacted, got %v", out["Authorization"])
	}
	q, ok := out["query"].(string)
	if !ok || len(q) > opts.MaxFieldBytes {
		t.Fatalf("expected query truncated to <= %d bytes, got %v", opts.MaxFieldBytes, out["query"])
	}
	if out["count"] != 42 {
		t.Fatalf("expected non-string value to pass through, got %v", out["count"])
	}
}

func TestSanitizeParams_EmptyInput(t *testing.T) {
	if out := sanitizeParams(nil, DefaultLogOptions()); out != nil {
		t.Fatalf("expected nil for empty params, got %v", out)
	}
}

func TestRun_IncludeParamsLogsRedactedParams(t *testing.T) {
	handler := &capturingHandler{}
	tool := &mockTool{name: "search", result: "ok"}

	opts := DefaultLogOptions()
	opts.IncludeParams = true

	client := newMockClient(
		callsResult(fnCall("call_1", "search", `{"query":"weather","X-API-Key":"sk-verysecret"}`)),
		messageResult("done"),
	)
	e := New(client, WithLogger(slog.New(handler)), WithLogOptions(opts))

	if _, _, err := e.Run(context.Background(), testAgent("solo", registryWith(tool)), "task", RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var logged map[string]any
	for _, rec := range handler.allRecords() {
		if rec.Message != "action_completed" {
			continue
		}
		params, ok := rec.Attrs["params"].(map[string]any)
		if !ok {
			t.Fatalf("expected params attr on action_completed, got %v", rec.Attrs["params"])
		}
		logged = params
	}
	if logged == nil {
		t.Fatal("expected an action_completed record carrying params")
	}
	if logged["X-API-Key"] != "[redacted]" {
		t.Errorf("expected X-API-Key redacted, got %v", logged["X-API-Key"])
	}
	if logged["query"] != "weather" {
		t.Errorf("expected query logged verbatim, got %v", logged["query"])
	}
	if strings.Contains(fmt.Sprint(logged), "sk-verysecret") {
		t.Error("secret value leaked into logged params")
	}
}

func TestRun_ParamsOmittedFromLogsByDefault(t *testing.T) {
	handler := &capturingHandler{}
	tool := &mockTool{name: "search", result: "ok"}

	client := newMockClient(
		callsResult(fnCall("call_1", "search", `{"query":"weather"}`)),
		messageResult("done"),
	)
	e := New(client, WithLogger(slog.New(handler)))

	if _, _, err := e.Run(context.Background(), testAgent("solo", registryWith(tool)), "task", RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, rec := range handler.allRecords() {
		if _, ok := rec.Attrs["params"]; ok {
			t.Fatalf("expected no params attr on %q without IncludeParams", rec.Message)
		}
	}
}
