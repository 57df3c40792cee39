package agent

import (
	"context"
	"fmt"
	"strings"
)

// Handoff transfers control to another agent mid-run. It is exposed to
// the model as a function tool; the classifier resolves handoffs before
// same-named function tools.
type Handoff struct {
	// ToolName is the function name the model calls. Empty defaults to
	// "transfer_to_<target name>".
	ToolName    string
	Description string

	// Target is the destination agent. OnInvoke, when set, overrides it
	// and may pick the destination from the call arguments.
	Target   *Agent
	OnInvoke func(ctx context.Context, params map[string]any) (*Agent, error)

	// InputFilter, when set, rewrites the accumulated history before the
	// destination agent's first turn.
	InputFilter func(items []Item) []Item
}

func (h *Handoff) name() string {
	if h == nil {
		return ""
	}
	if n := strings.TrimSpace(h.ToolName); n != "" {
		return n
	}
	if h.Target != nil {
		return "transfer_to_" + strings.TrimSpace(h.Target.Name)
	}
	return ""
}

func (h *Handoff) description() string {
	if h == nil {
		return ""
	}
	if d := strings.TrimSpace(h.Description); d != "" {
		return d
	}
	if h.Target != nil {
		return fmt.Sprintf("Transfer the conversation to agent %s.", h.Target.Name)
	}
	return "Transfer the conversation to another agent."
}

// resolve materializes the destination agent for one invocation.
func (h *Handoff) resolve(ctx context.Context, params map[string]any) (*Agent, error) {
	if h == nil {
		return nil, &UnknownHandoffError{Name: ""}
	}
	if h.OnInvoke != nil {
		target, err := h.OnInvoke(ctx, params)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, &UnknownHandoffError{Name: h.name()}
		}
		return target, nil
	}
	if h.Target == nil {
		return nil, &UnknownHandoffError{Name: h.name()}
	}
	return h.Target, nil
}
