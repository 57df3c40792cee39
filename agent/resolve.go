package agent

import (
	"encoding/json"
	"fmt"

	"github.com/quailyquaily/turnstile/internal/jsonutil"
)

// NextStep is the resolver's decision for one turn. Exactly one
// concrete step is produced per invocation; it is the only channel by
// which the run loop learns what to do next.
type NextStep interface{ isNextStep() }

// StepRunAgain loops: results are fed back and the model is called
// again.
type StepRunAgain struct{}

// StepHandoff transfers the run to NewAgent before the next model call.
type StepHandoff struct {
	NewAgent *Agent
	ToolName string
}

// StepFinalOutput ends the run with the agent's final text.
type StepFinalOutput struct {
	Output string
}

// StepInterruption pauses the run until an external approver resolves
// the pending placeholders. The turn is resumable.
type StepInterruption struct {
	Pending []Item
}

func (StepRunAgain) isNextStep()     {}
func (StepHandoff) isNextStep()      {}
func (StepFinalOutput) isNextStep()  {}
func (StepInterruption) isNextStep() {}

// resolveNextStep composes the classifier and dispatcher outputs into
// the turn's single transition. Pending approvals win over everything;
// a handoff beats continuing; any dispatched action forces another
// model call even when an assistant message is present; only an
// action-free response with assistant text can finalize.
func (e *Engine) resolveNextStep(st *loopState, resp *ProcessedResponse, dres *dispatchResult) (NextStep, error) {
	if len(dres.pending) > 0 {
		pending := make([]Item, 0, len(dres.pending))
		for _, p := range dres.pending {
			pending = append(pending, p.item)
		}
		return StepInterruption{Pending: pending}, nil
	}
	if dres.newAgent != nil {
		return StepHandoff{NewAgent: dres.newAgent, ToolName: dres.handoffTool}, nil
	}
	if resp.HasActions() {
		return StepRunAgain{}, nil
	}

	text, ok := resp.lastAssistantText()
	if !ok {
		return StepRunAgain{}, nil
	}
	raw, err := validateFinalOutput(st.agent, text)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		st.agentCtx.RawFinalAnswer = raw
	}
	return StepFinalOutput{Output: text}, nil
}

// validateFinalOutput checks the provisional final text against the
// agent's declared output schema, when one exists. Failure is fatal: a
// malformed final answer is a model/contract bug, not a transient
// condition, so the run aborts instead of retrying.
func validateFinalOutput(ag *Agent, text string) (json.RawMessage, error) {
	if ag == nil || len(ag.OutputSchema) == 0 {
		return nil, nil
	}

	payload, err := jsonutil.FindJSONPayload(text)
	if err != nil {
		return nil, &OutputValidationError{Agent: ag.Name, Reason: "output is not valid JSON"}
	}
	var value map[string]any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, &OutputValidationError{Agent: ag.Name, Reason: "output is not a JSON object"}
	}

	var schema struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(ag.OutputSchema, &schema); err != nil {
		return nil, &OutputValidationError{Agent: ag.Name, Reason: fmt.Sprintf("invalid output schema: %v", err)}
	}
	for _, key := range schema.Required {
		if _, ok := value[key]; !ok {
			return nil, &OutputValidationError{Agent: ag.Name, Reason: fmt.Sprintf("missing required field %q", key)}
		}
	}
	return json.RawMessage(payload), nil
}

// resultKeys collects the action keys of every terminal result item in
// history. Resumption consults it to skip actions already done.
func resultKeys(items []Item) map[string]bool {
	out := make(map[string]bool)
	for _, it := range items {
		if it.Kind != ItemToolResult && it.Kind != ItemHandoffResult {
			continue
		}
		if key := actionKey(it.CallID, it.Raw); key != "" {
			out[key] = true
		}
	}
	return out
}
