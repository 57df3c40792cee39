package tools

import (
	"context"
	"strings"
)

// HostedRequest is the engine's view of one hosted-tool approval
// request: which server raised it, for which tool call.
type HostedRequest struct {
	ServerLabel string
	ToolName    string
	CallID      string
	ID          string
	Arguments   string
}

// Remote is a hosted tool server the model may address by label. When
// ResolveApproval is set, approval requests from this server are
// answered synchronously during dispatch; otherwise each request pauses
// the run until an external approver decides.
type Remote struct {
	ServerLabel  string
	AllowedTools []string

	ResolveApproval func(ctx context.Context, req HostedRequest) (bool, error)
}

// Allows reports whether the remote permits calls to toolName. An empty
// AllowedTools list permits everything.
func (r *Remote) Allows(toolName string) bool {
	if r == nil {
		return false
	}
	if len(r.AllowedTools) == 0 {
		return true
	}
	toolName = strings.TrimSpace(toolName)
	for _, name := range r.AllowedTools {
		if strings.EqualFold(strings.TrimSpace(name), toolName) {
			return true
		}
	}
	return false
}
