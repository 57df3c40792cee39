package agent

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/llm"
)

// Metrics accumulates model usage across a run.
type Metrics struct {
	LLMCalls     int           `json:"llm_calls"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	TotalTokens  int64         `json:"total_tokens"`
	TotalCost    float64       `json:"total_cost"`
	TotalLLMTime time.Duration `json:"total_llm_time_ns"`
}

// Context is the shared state of one run. It owns the approval decision
// store: three-valued per (tool name, call id), written only through
// ApproveTool/RejectTool (a human, a callback, or a prior turn's
// resolution) and read by the dispatcher. Decisions persist across
// turns and across serialized resumption.
type Context struct {
	Task     string
	MaxTurns int

	Metrics *Metrics

	// RawFinalAnswer holds the validated final output when the agent
	// declares an output schema. Nil until the run finalizes.
	RawFinalAnswer json.RawMessage

	mu        sync.RWMutex
	decisions map[string]guard.DecisionState
}

func NewContext(task string, maxTurns int) *Context {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Context{
		Task:      task,
		MaxTurns:  maxTurns,
		Metrics:   &Metrics{},
		decisions: make(map[string]guard.DecisionState),
	}
}

// AddUsage folds one model call's usage into the run metrics. Providers
// that never report TotalTokens get the input+output fallback applied
// per call, not just once.
func (c *Context) AddUsage(u llm.Usage, d time.Duration) {
	if c == nil {
		return
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	c.Metrics.LLMCalls++
	c.Metrics.InputTokens += int64(u.InputTokens)
	c.Metrics.OutputTokens += int64(u.OutputTokens)
	c.Metrics.TotalTokens += int64(total)
	c.Metrics.TotalCost += u.Cost
	c.Metrics.TotalLLMTime += d
}

func decisionKey(toolName, callID string) string {
	return strings.TrimSpace(toolName) + "\x00" + strings.TrimSpace(callID)
}

// ApproveTool records an approved decision for (toolName, callID).
func (c *Context) ApproveTool(toolName, callID string) {
	c.setDecision(toolName, callID, guard.StateApproved)
}

// RejectTool records a rejected decision for (toolName, callID).
func (c *Context) RejectTool(toolName, callID string) {
	c.setDecision(toolName, callID, guard.StateRejected)
}

func (c *Context) setDecision(toolName, callID string, state guard.DecisionState) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decisions == nil {
		c.decisions = make(map[string]guard.DecisionState)
	}
	c.decisions[decisionKey(toolName, callID)] = state
}

// ApprovalState answers the dispatcher's tri-state lookup. Undecided
// keeps the action pending.
func (c *Context) ApprovalState(toolName, callID string) guard.DecisionState {
	if c == nil {
		return guard.StateUndecided
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.decisions[decisionKey(toolName, callID)]; ok {
		return state
	}
	return guard.StateUndecided
}

// decisionsSnapshot copies the decision store for serialization.
func (c *Context) decisionsSnapshot() map[string]guard.DecisionState {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.decisions) == 0 {
		return nil
	}
	out := make(map[string]guard.DecisionState, len(c.decisions))
	for k, v := range c.decisions {
		out[k] = v
	}
	return out
}

func (c *Context) restoreDecisions(decisions map[string]guard.DecisionState) {
	if c == nil || len(decisions) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decisions == nil {
		c.decisions = make(map[string]guard.DecisionState, len(decisions))
	}
	for k, v := range decisions {
		c.decisions[k] = v
	}
}
