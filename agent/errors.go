package agent

import "fmt"

// UnknownToolError aborts classification when a response references a
// capability nothing in the registry provides. It is deterministic and
// never retried: the model and the registration disagree.
type UnknownToolError struct {
	Kind string
	Name string
}

func (e *UnknownToolError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no %s handler registered", e.Kind)
	}
	return fmt.Sprintf("unknown %s: %s", e.Kind, e.Name)
}

// UnknownServerError aborts classification when a hosted approval
// request names a server label no remote tool was registered under.
type UnknownServerError struct {
	Label string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("unknown remote server label: %s", e.Label)
}

// UnknownHandoffError surfaces when a handoff cannot produce its
// destination agent, or a resumption snapshot names an agent absent
// from the roster.
type UnknownHandoffError struct {
	Name string
}

func (e *UnknownHandoffError) Error() string {
	return fmt.Sprintf("unknown handoff target: %s", e.Name)
}

// TripwireError is a guardrail halt verdict. Unlike a reject (which
// substitutes content and lets the loop continue) a tripwire aborts the
// run.
type TripwireError struct {
	Guardrail string
	ToolName  string
	Reason    string
}

func (e *TripwireError) Error() string {
	msg := fmt.Sprintf("guardrail tripwire %s halted tool %s", e.Guardrail, e.ToolName)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// OutputValidationError means the agent declared an output schema and
// the final assistant text did not satisfy it. A malformed final answer
// is a model/contract bug, so the run aborts instead of retrying.
type OutputValidationError struct {
	Agent  string
	Reason string
}

func (e *OutputValidationError) Error() string {
	return fmt.Sprintf("final output of agent %s failed validation: %s", e.Agent, e.Reason)
}

// MaxTurnsError ends a run that looped past its turn budget without
// producing a terminal step.
type MaxTurnsError struct {
	Limit int
}

func (e *MaxTurnsError) Error() string {
	return fmt.Sprintf("exceeded max turns (%d)", e.Limit)
}
