package tools

import (
	"context"
	"strings"
)

// GuardrailVerdict is the outcome of one guardrail check.
type GuardrailVerdict string

const (
	// VerdictAllow lets the action (or its result) through unchanged.
	VerdictAllow GuardrailVerdict = "allow"
	// VerdictReject substitutes ReplacementText for the tool invocation
	// (input) or the tool's result (output) without failing the turn.
	VerdictReject GuardrailVerdict = "reject"
	// VerdictHalt aborts the run. Reserved for tripwire conditions the
	// model must never be allowed to retry around.
	VerdictHalt GuardrailVerdict = "halt"
)

type GuardrailResult struct {
	Verdict         GuardrailVerdict
	ReplacementText string
	Reason          string
}

// ToolInput is what input guardrails see: the call about to execute.
type ToolInput struct {
	ToolName string
	CallID   string
	Params   map[string]any
}

// ToolOutput is what output guardrails see: the call plus its result.
type ToolOutput struct {
	ToolName string
	CallID   string
	Params   map[string]any
	Output   string
}

// InputGuardrail gates a single action before its handler runs. A
// reject verdict short-circuits execution and records ReplacementText
// as the result instead.
type InputGuardrail struct {
	Name  string
	Check func(ctx context.Context, in ToolInput) (GuardrailResult, error)
}

// OutputGuardrail may rewrite a completed action's recorded result.
type OutputGuardrail struct {
	Name  string
	Check func(ctx context.Context, out ToolOutput) (GuardrailResult, error)
}

// NormalizeVerdict maps unset or unknown verdicts to allow so that a
// zero GuardrailResult is a no-op.
func NormalizeVerdict(v GuardrailVerdict) GuardrailVerdict {
	switch GuardrailVerdict(strings.TrimSpace(string(v))) {
	case VerdictReject:
		return VerdictReject
	case VerdictHalt:
		return VerdictHalt
	default:
		return VerdictAllow
	}
}
