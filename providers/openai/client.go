// Package openai implements llm.Client against the OpenAI-compatible
// chat-completions wire format. Tool calls in the response are mapped
// into the ordered, kind-tagged output entries the classifier consumes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/turnstile/llm"
)

const (
	defaultEndpoint         = "https://api.openai.com/v1"
	defaultMaxResponseBytes = 8 * 1024 * 1024
	defaultTimeout          = 120 * time.Second
)

type Client struct {
	Endpoint string
	APIKey   string

	HTTP      *http.Client
	UserAgent string

	// MaxResponseBytes caps how much of the response body is read.
	MaxResponseBytes int64
}

func New(endpoint, apiKey string) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		Endpoint:         endpoint,
		APIKey:           strings.TrimSpace(apiKey),
		HTTP:             &http.Client{Timeout: defaultTimeout},
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type wireRequest struct {
	Model          string         `json:"model"`
	Messages       []wireMessage  `json:"messages"`
	Tools          []wireTool     `json:"tools,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`

	Extra map[string]any `json:"-"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			Reasoning string         `json:"reasoning,omitempty"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	if c == nil {
		return llm.Result{}, fmt.Errorf("nil openai client")
	}

	body, err := c.encodeRequest(req)
	if err != nil {
		return llm.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	started := time.Now()
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return llm.Result{}, err
	}

	var wire wireResponse
	if uerr := json.Unmarshal(raw, &wire); uerr != nil {
		if resp.StatusCode != http.StatusOK {
			return llm.Result{}, fmt.Errorf("llm http %d: %s", resp.StatusCode, truncateErrBody(raw))
		}
		return llm.Result{}, fmt.Errorf("decode llm response: %w", uerr)
	}
	if wire.Error != nil {
		return llm.Result{}, fmt.Errorf("llm error (%s): %s", wire.Error.Type, wire.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return llm.Result{}, fmt.Errorf("llm http %d: %s", resp.StatusCode, truncateErrBody(raw))
	}
	if len(wire.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("llm response has no choices")
	}

	msg := wire.Choices[0].Message
	result := llm.Result{
		Text: msg.Content,
		Usage: llm.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		},
		Duration: time.Since(started),
	}
	if text := strings.TrimSpace(msg.Reasoning); text != "" {
		result.Output = append(result.Output, llm.OutputItem{Kind: llm.OutputReasoning, Text: text})
	}
	if strings.TrimSpace(msg.Content) != "" {
		result.Output = append(result.Output, llm.OutputItem{Kind: llm.OutputMessage, Role: "assistant", Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		result.Output = append(result.Output, llm.OutputItem{
			Kind: llm.OutputFunctionCall,
			ID:   tc.ID,
			Call: &llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return result, nil
}

// encodeRequest renders the wire payload, merging provider-specific
// extra parameters as top-level fields without letting them override
// the structured ones.
func (c *Client) encodeRequest(req llm.Request) ([]byte, error) {
	wire := wireRequest{Model: req.Model}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		if s := strings.TrimSpace(t.ParametersJSON); s != "" {
			wt.Function.Parameters = json.RawMessage(s)
		}
		wire.Tools = append(wire.Tools, wt)
	}
	if req.ForceJSON {
		wire.ResponseFormat = map[string]any{"type": "json_object"}
	}

	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(req.Parameters) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range req.Parameters {
		if _, taken := merged[k]; taken {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func truncateErrBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
