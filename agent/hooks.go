package agent

import (
	"context"

	"github.com/quailyquaily/turnstile/guard"
)

// ActionInfo identifies one dispatched action to lifecycle observers.
type ActionInfo struct {
	Type     guard.ActionType
	ToolName string
	CallID   string
	Agent    string
	Turn     int
}

// RunHooks observes one run. All fields are optional; nil hooks are
// skipped. Hooks run synchronously on the dispatching goroutine, so
// they must be fast and must tolerate concurrent invocation (one
// goroutine per in-flight action).
type RunHooks struct {
	OnActionStart func(ctx context.Context, info ActionInfo)
	OnActionEnd   func(ctx context.Context, info ActionInfo, output string, err error)
	OnHandoff     func(ctx context.Context, from, to string)
}

// AgentHooks observes a single agent. OnHandoffReceived fires on the
// destination agent when a handoff selects it.
type AgentHooks struct {
	OnStart           func(ctx context.Context, agentName string)
	OnHandoffReceived func(ctx context.Context, from string)
}

func (h *RunHooks) emitActionStart(ctx context.Context, info ActionInfo) {
	if h == nil || h.OnActionStart == nil {
		return
	}
	h.OnActionStart(ctx, info)
}

func (h *RunHooks) emitActionEnd(ctx context.Context, info ActionInfo, output string, err error) {
	if h == nil || h.OnActionEnd == nil {
		return
	}
	h.OnActionEnd(ctx, info, output, err)
}

func (h *RunHooks) emitHandoff(ctx context.Context, from, to string) {
	if h == nil || h.OnHandoff == nil {
		return
	}
	h.OnHandoff(ctx, from, to)
}

func (h *AgentHooks) emitStart(ctx context.Context, agentName string) {
	if h == nil || h.OnStart == nil {
		return
	}
	h.OnStart(ctx, agentName)
}

func (h *AgentHooks) emitHandoffReceived(ctx context.Context, from string) {
	if h == nil || h.OnHandoffReceived == nil {
		return
	}
	h.OnHandoffReceived(ctx, from)
}
