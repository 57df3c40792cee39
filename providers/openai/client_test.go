package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/quailyquaily/turnstile/llm"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func fakeClient(t *testing.T, status int, body string, capture *[]byte) *Client {
	t.Helper()
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if capture != nil {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatal(err)
			}
			*capture = b
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})
	c := New("http://fake.test", "key")
	c.HTTP = &http.Client{Transport: rt}
	return c
}

func TestClient_ResponseBodyTruncated(t *testing.T) {
	// Build a response body larger than the limit.
	const limit int64 = 256
	bigBody := strings.Repeat("x", int(limit)+100)

	c := fakeClient(t, 200, bigBody, nil)
	c.MaxResponseBytes = limit

	// Chat will fail to unmarshal truncated JSON, but the key thing is
	// that io.ReadAll did not read more than limit bytes.
	_, err := c.Chat(context.Background(), llm.Request{
		Model:    "test",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from truncated JSON, got nil")
	}
	if !strings.Contains(err.Error(), "invalid") && !strings.Contains(err.Error(), "unexpected") && !strings.Contains(err.Error(), "unmarshal") {
		t.Fatalf("expected JSON parse error, got: %v", err)
	}
}

func TestClient_NormalResponseParsed(t *testing.T) {
	validJSON := `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`
	c := fakeClient(t, 200, validJSON, nil)

	res, err := c.Chat(context.Background(), llm.Request{
		Model:    "test",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", res.Text)
	}
	if res.Usage.TotalTokens != 2 {
		t.Fatalf("expected 2 total tokens, got %d", res.Usage.TotalTokens)
	}
	if len(res.Output) != 1 || res.Output[0].Kind != llm.OutputMessage {
		t.Fatalf("expected one message output entry, got %+v", res.Output)
	}
}

func TestClient_ToolCallsBecomeOrderedOutputEntries(t *testing.T) {
	body := `{
		"choices":[{"message":{
			"content":"let me check",
			"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"q\":\"a\"}"}},
				{"id":"call_2","type":"function","function":{"name":"calc","arguments":"{}"}}
			]
		}}],
		"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}
	}`
	c := fakeClient(t, 200, body, nil)

	res, err := c.Chat(context.Background(), llm.Request{Model: "test"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(res.Output) != 3 {
		t.Fatalf("expected 3 output entries (message + 2 calls), got %d", len(res.Output))
	}
	if res.Output[0].Kind != llm.OutputMessage {
		t.Errorf("expected message entry first, got %s", res.Output[0].Kind)
	}
	first, second := res.Output[1], res.Output[2]
	if first.Kind != llm.OutputFunctionCall || first.Call == nil || first.Call.Name != "search" || first.Call.ID != "call_1" {
		t.Errorf("unexpected first call entry: %+v", first)
	}
	if second.Call == nil || second.Call.Name != "calc" {
		t.Errorf("unexpected second call entry: %+v", second)
	}
	if first.Call.Arguments != `{"q":"a"}` {
		t.Errorf("arguments must stay the raw JSON string, got %q", first.Call.Arguments)
	}
}

func TestClient_RequestCarriesToolsAndExtraParams(t *testing.T) {
	var captured []byte
	c := fakeClient(t, 200, `{"choices":[{"message":{"content":"ok"}}]}`, &captured)

	_, err := c.Chat(context.Background(), llm.Request{
		Model:      "test",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
		Tools:      []llm.Tool{{Name: "search", Description: "find", ParametersJSON: `{"type":"object"}`}},
		ForceJSON:  true,
		Parameters: map[string]any{"temperature": 0.2, "model": "never-overrides"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if req["model"] != "test" {
		t.Errorf("extra params must not override structured fields, got model=%v", req["model"])
	}
	if req["temperature"] != 0.2 {
		t.Errorf("expected temperature passthrough, got %v", req["temperature"])
	}
	tools, _ := req["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool in request, got %v", req["tools"])
	}
	rf, _ := req["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", req["response_format"])
	}
}

func TestClient_APIErrorSurfaced(t *testing.T) {
	c := fakeClient(t, 429, `{"error":{"message":"rate limited","type":"rate_limit"}}`, nil)

	_, err := c.Chat(context.Background(), llm.Request{Model: "test"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected surfaced API error, got %v", err)
	}
}
