// Package llm defines the model-facing wire types and the client
// interface the turn engine drives. Providers translate their native
// wire formats into the ordered, kind-tagged Output entries consumed
// by the classifier.
package llm

import (
	"context"
	"time"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ParametersJSON string `json:"parameters_json,omitempty"`
}

// ToolCall carries arguments as the raw JSON string the model emitted.
// Parsing happens at dispatch time so that malformed arguments can be
// turned into a corrective result instead of being lost here.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Cost         float64 // USD
}

type Result struct {
	// Text is the concatenated assistant message text, kept as a
	// convenience for providers that only speak plain chat.
	Text     string
	Output   []OutputItem
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	ForceJSON  bool
	Parameters map[string]any
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}
