package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/internal/jsonutil"
	"github.com/quailyquaily/turnstile/internal/strutil"
	"github.com/quailyquaily/turnstile/llm"
	"github.com/quailyquaily/turnstile/tools"
)

// pendingAction is one action deferred for external approval: the
// placeholder item plus the guard's view of the action, used to mint
// the approval record when the interruption is raised.
type pendingAction struct {
	index  int
	item   Item
	action guard.Action
}

// dispatchResult is one dispatcher pass's outcome. results holds the
// kind-specific result items re-sequenced into the emission order of
// their originating calls; pending holds placeholders for actions still
// awaiting a decision, appended to history after the results.
type dispatchResult struct {
	results []Item
	pending []pendingAction

	newAgent    *Agent
	handoffFrom string
	handoffTool string
	inputFilter func([]Item) []Item
}

// executeActions dispatches every pending action of the turn. Actions
// run concurrently, one goroutine each; completion order is
// unconstrained, so each goroutine writes only its own emission-index
// slot and the results are reassembled in order afterwards. A fatal
// error from any action cancels the rest of the group. The winning
// handoff executes after the group settles, and is suppressed entirely
// while any action is still pending so that the interrupted turn
// resumes under the agent that produced it.
//
// skip holds action keys whose result items already exist in history;
// those actions are resumed work already done and are never re-run.
func (e *Engine) executeActions(ctx context.Context, st *loopState, resp *ProcessedResponse, skip map[string]bool) (*dispatchResult, error) {
	maxIndex := -1
	note := func(i int) {
		if i > maxIndex {
			maxIndex = i
		}
	}
	for _, r := range resp.Functions {
		note(r.Index)
	}
	for _, r := range resp.Handoffs {
		note(r.Index)
	}
	for _, r := range resp.Computers {
		note(r.Index)
	}
	for _, r := range resp.Shells {
		note(r.Index)
	}
	for _, r := range resp.Patches {
		note(r.Index)
	}
	for _, r := range resp.Approvals {
		note(r.Index)
	}

	out := &dispatchResult{}
	if maxIndex < 0 {
		return out, nil
	}

	slots := make([]*Item, maxIndex+1)
	var pendingMu sync.Mutex
	addPending := func(p pendingAction) {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		out.pending = append(out.pending, p)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, run := range resp.Functions {
		run := run
		if skip[actionKey(run.Call.ID, run.Raw)] {
			continue
		}
		g.Go(func() error {
			item, pend, err := e.runFunction(gctx, st, run)
			if err != nil {
				return err
			}
			if pend != nil {
				addPending(*pend)
				return nil
			}
			slots[run.Index] = item
			return nil
		})
	}

	for _, run := range resp.Computers {
		run := run
		if skip[actionKey(run.Call.CallID, run.Raw)] {
			continue
		}
		g.Go(func() error {
			item, pend, err := e.runComputer(gctx, st, run)
			if err != nil {
				return err
			}
			if pend != nil {
				addPending(*pend)
				return nil
			}
			slots[run.Index] = item
			return nil
		})
	}

	for _, run := range resp.Shells {
		run := run
		if skip[actionKey(run.Call.CallID, run.Raw)] {
			continue
		}
		g.Go(func() error {
			item, pend, err := e.runShell(gctx, st, run)
			if err != nil {
				return err
			}
			if pend != nil {
				addPending(*pend)
				return nil
			}
			slots[run.Index] = item
			return nil
		})
	}

	for _, run := range resp.Patches {
		run := run
		if skip[actionKey(run.Call.CallID, run.Raw)] {
			continue
		}
		g.Go(func() error {
			item, pend, err := e.runPatch(gctx, st, run)
			if err != nil {
				return err
			}
			if pend != nil {
				addPending(*pend)
				return nil
			}
			slots[run.Index] = item
			return nil
		})
	}

	for _, run := range resp.Approvals {
		run := run
		if skip[actionKey(run.Request.CallID, run.Raw)] {
			continue
		}
		g.Go(func() error {
			item, pend, err := e.runHostedApproval(gctx, st, run)
			if err != nil {
				return err
			}
			if pend != nil {
				addPending(*pend)
				return nil
			}
			slots[run.Index] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := e.resolveHandoffs(ctx, st, resp, skip, slots, out); err != nil {
		return nil, err
	}

	for i := range slots {
		if slots[i] != nil {
			out.results = append(out.results, *slots[i])
		}
	}
	sort.SliceStable(out.pending, func(a, b int) bool {
		return out.pending[a].index < out.pending[b].index
	})
	return out, nil
}

// resolveHandoffs applies the at-most-one-handoff policy after every
// concurrent action settled: the first handoff in emission order wins,
// later ones get a synthesized rejection result. The winner is held
// back while anything is pending; the raised interruption keeps the
// current agent, and resumption re-runs the handoff once the pending
// work resolves.
func (e *Engine) resolveHandoffs(ctx context.Context, st *loopState, resp *ProcessedResponse, skip map[string]bool, slots []*Item, out *dispatchResult) error {
	var winner *HandoffRun
	for i := range resp.Handoffs {
		run := &resp.Handoffs[i]
		if skip[actionKey(run.Call.ID, run.Raw)] {
			continue
		}
		if winner == nil {
			winner = run
			continue
		}
		name := strings.TrimSpace(run.Call.Name)
		slots[run.Index] = &Item{
			ID:       itemID(st.turn, run.Index, ItemHandoffResult),
			Kind:     ItemHandoffResult,
			Agent:    st.agent.Name,
			ToolName: name,
			CallID:   run.Call.ID,
			Text:     "Multiple handoffs detected, ignoring this one.",
			Raw:      run.Raw,
		}
		st.log.Warn("multiple_handoffs_ignored", "tool", name, "call_id", run.Call.ID, "turn", st.turn)
	}
	if winner == nil {
		return nil
	}

	name := strings.TrimSpace(winner.Call.Name)
	callID := winner.Call.ID
	params, perr := parseToolArguments(winner.Call.Arguments, "")
	if perr != nil {
		params = nil
	}
	action := guard.Action{
		Type:       guard.ActionFunctionCall,
		ToolName:   name,
		CallID:     decisionID(callID, winner.Raw),
		ToolParams: params,
	}

	state, err := e.decideApproval(ctx, st, nil, params, callID, action)
	if err != nil {
		return err
	}
	switch state {
	case guard.StateRejected:
		slots[winner.Index] = rejectionItem(st.turn, winner.Index, ItemHandoffResult, st.agent.Name, name, callID, winner.Raw)
		return nil
	case guard.StateUndecided:
		out.pending = append(out.pending, pendingAction{
			index:  winner.Index,
			item:   placeholderItem(st.turn, winner.Index, st.agent.Name, name, callID, winner.Raw),
			action: action,
		})
		return nil
	}

	if len(out.pending) > 0 {
		st.log.Debug("handoff_deferred_pending_approvals", "tool", name, "turn", st.turn)
		return nil
	}

	target, err := winner.Handoff.resolve(ctx, params)
	if err != nil {
		return err
	}
	slots[winner.Index] = &Item{
		ID:       itemID(st.turn, winner.Index, ItemHandoffResult),
		Kind:     ItemHandoffResult,
		Agent:    st.agent.Name,
		ToolName: name,
		CallID:   callID,
		Target:   target.Name,
		Text:     fmt.Sprintf("Transferred to %s.", target.Name),
		Raw:      winner.Raw,
	}
	out.newAgent = target
	out.handoffFrom = st.agent.Name
	out.handoffTool = name
	out.inputFilter = winner.Handoff.InputFilter

	e.hooks.emitHandoff(ctx, st.agent.Name, target.Name)
	target.Hooks.emitHandoffReceived(ctx, st.agent.Name)
	return nil
}

func (e *Engine) runFunction(ctx context.Context, st *loopState, run FunctionRun) (*Item, *pendingAction, error) {
	name := strings.TrimSpace(run.Call.Name)
	callID := run.Call.ID

	params, perr := parseToolArguments(run.Call.Arguments, run.Tool.ParameterSchema())
	if perr != nil {
		text := fmt.Sprintf("Error: invalid arguments for tool %s: %v. Resend the call with arguments as a valid JSON object matching the tool schema.", name, perr)
		return resultItem(st.turn, run.Index, st.agent.Name, name, callID, text, run.Raw), nil, nil
	}

	action := guard.Action{
		Type:       guard.ActionFunctionCall,
		ToolName:   name,
		CallID:     decisionID(callID, run.Raw),
		ToolParams: params,
	}
	state, err := e.decideApproval(ctx, st, run.Tool, params, callID, action)
	if err != nil {
		return nil, nil, err
	}
	switch state {
	case guard.StateRejected:
		return rejectionItem(st.turn, run.Index, ItemToolResult, st.agent.Name, name, callID, run.Raw), nil, nil
	case guard.StateUndecided:
		return nil, &pendingAction{
			index:  run.Index,
			item:   placeholderItem(st.turn, run.Index, st.agent.Name, name, callID, run.Raw),
			action: action,
		}, nil
	}

	guarded, _ := run.Tool.(tools.Guarded)
	info := ActionInfo{Type: guard.ActionFunctionCall, ToolName: name, CallID: callID, Agent: st.agent.Name, Turn: st.turn}
	in := tools.ToolInput{ToolName: name, CallID: callID, Params: params}
	output, err := e.invoke(ctx, st, info, action, guarded, in, func(c context.Context) (string, error) {
		return run.Tool.Execute(c, params)
	})
	if err != nil {
		return nil, nil, err
	}
	return resultItem(st.turn, run.Index, st.agent.Name, name, callID, output, run.Raw), nil, nil
}

func (e *Engine) runComputer(ctx context.Context, st *loopState, run ComputerRun) (*Item, *pendingAction, error) {
	name := run.Handler.Name()
	callID := run.Call.CallID

	params, decoded, derr := decodeActionPayload(run.Call.Action, func(raw json.RawMessage) (tools.ComputerAction, error) {
		return tools.DecodeComputerAction(raw)
	})
	if derr != nil {
		text := fmt.Sprintf("Error: invalid computer action: %v. Resend the call with a valid action payload.", derr)
		return resultItem(st.turn, run.Index, st.agent.Name, name, callID, text, run.Raw), nil, nil
	}

	action := guard.Action{
		Type:       guard.ActionComputerCall,
		ToolName:   name,
		CallID:     decisionID(callID, run.Raw),
		ToolParams: params,
		URL:        decoded.URL,
	}
	state, err := e.decideApproval(ctx, st, run.Handler, params, callID, action)
	if err != nil {
		return nil, nil, err
	}
	switch state {
	case guard.StateRejected:
		return rejectionItem(st.turn, run.Index, ItemToolResult, st.agent.Name, name, callID, run.Raw), nil, nil
	case guard.StateUndecided:
		return nil, &pendingAction{
			index:  run.Index,
			item:   placeholderItem(st.turn, run.Index, st.agent.Name, name, callID, run.Raw),
			action: action,
		}, nil
	}

	guarded, _ := run.Handler.(tools.Guarded)
	info := ActionInfo{Type: guard.ActionComputerCall, ToolName: name, CallID: callID, Agent: st.agent.Name, Turn: st.turn}
	in := tools.ToolInput{ToolName: name, CallID: callID, Params: params}
	output, err := e.invoke(ctx, st, info, action, guarded, in, func(c context.Context) (string, error) {
		return run.Handler.Execute(c, decoded)
	})
	if err != nil {
		return nil, nil, err
	}
	return resultItem(st.turn, run.Index, st.agent.Name, name, callID, output, run.Raw), nil, nil
}

func (e *Engine) runShell(ctx context.Context, st *loopState, run ShellRun) (*Item, *pendingAction, error) {
	name := run.Handler.Name()
	callID := run.Call.CallID

	params, decoded, derr := decodeActionPayload(run.Call.Action, func(raw json.RawMessage) (tools.ShellAction, error) {
		return tools.DecodeShellAction(raw)
	})
	if derr != nil {
		text := fmt.Sprintf("Error: invalid shell action: %v. Resend the call with a valid action payload.", derr)
		return resultItem(st.turn, run.Index, st.agent.Name, name, callID, text, run.Raw), nil, nil
	}

	action := guard.Action{
		Type:       guard.ActionShellCall,
		ToolName:   name,
		CallID:     decisionID(callID, run.Raw),
		ToolParams: params,
		Content:    strings.Join(decoded.Commands, "\n"),
	}
	state, err := e.decideApproval(ctx, st, run.Handler, params, callID, action)
	if err != nil {
		return nil, nil, err
	}
	switch state {
	case guard.StateRejected:
		return rejectionItem(st.turn, run.Index, ItemToolResult, st.agent.Name, name, callID, run.Raw), nil, nil
	case guard.StateUndecided:
		return nil, &pendingAction{
			index:  run.Index,
			item:   placeholderItem(st.turn, run.Index, st.agent.Name, name, callID, run.Raw),
			action: action,
		}, nil
	}

	guarded, _ := run.Handler.(tools.Guarded)
	info := ActionInfo{Type: guard.ActionShellCall, ToolName: name, CallID: callID, Agent: st.agent.Name, Turn: st.turn}
	in := tools.ToolInput{ToolName: name, CallID: callID, Params: params}
	output, err := e.invoke(ctx, st, info, action, guarded, in, func(c context.Context) (string, error) {
		return run.Handler.Execute(c, decoded)
	})
	if err != nil {
		return nil, nil, err
	}
	return resultItem(st.turn, run.Index, st.agent.Name, name, callID, output, run.Raw), nil, nil
}

func (e *Engine) runPatch(ctx context.Context, st *loopState, run PatchRun) (*Item, *pendingAction, error) {
	name := run.Handler.Name()
	callID := run.Call.CallID

	params, decoded, derr := decodeActionPayload(run.Call.Operation, func(raw json.RawMessage) (tools.PatchOperation, error) {
		return tools.DecodePatchOperation(raw)
	})
	if derr != nil {
		text := fmt.Sprintf("Error: invalid apply_patch operation: %v. Resend the call with a valid operation payload.", derr)
		return resultItem(st.turn, run.Index, st.agent.Name, name, callID, text, run.Raw), nil, nil
	}

	action := guard.Action{
		Type:       guard.ActionApplyPatch,
		ToolName:   name,
		CallID:     decisionID(callID, run.Raw),
		ToolParams: params,
		Content:    decoded.Diff,
	}
	state, err := e.decideApproval(ctx, st, run.Handler, params, callID, action)
	if err != nil {
		return nil, nil, err
	}
	switch state {
	case guard.StateRejected:
		return rejectionItem(st.turn, run.Index, ItemToolResult, st.agent.Name, name, callID, run.Raw), nil, nil
	case guard.StateUndecided:
		return nil, &pendingAction{
			index:  run.Index,
			item:   placeholderItem(st.turn, run.Index, st.agent.Name, name, callID, run.Raw),
			action: action,
		}, nil
	}

	guarded, _ := run.Handler.(tools.Guarded)
	info := ActionInfo{Type: guard.ActionApplyPatch, ToolName: name, CallID: callID, Agent: st.agent.Name, Turn: st.turn}
	in := tools.ToolInput{ToolName: name, CallID: callID, Params: params}
	output, err := e.invoke(ctx, st, info, action, guarded, in, func(c context.Context) (string, error) {
		return run.Handler.Execute(c, decoded)
	})
	if err != nil {
		return nil, nil, err
	}
	return resultItem(st.turn, run.Index, st.agent.Name, name, callID, output, run.Raw), nil, nil
}

// runHostedApproval answers one remote-approval request. A remote with
// a synchronous resolver decides now, writing the decision into the run
// context before the response item is synthesized; otherwise the
// request consults the decision store and stays pending until an
// external approver resolves it.
func (e *Engine) runHostedApproval(ctx context.Context, st *loopState, run ApprovalRun) (*Item, *pendingAction, error) {
	req := run.Request
	name := strings.TrimSpace(req.ToolName)
	callID := req.CallID
	decID := decisionID(callID, run.Raw)

	action := guard.Action{
		Type:     guard.ActionHostedApproval,
		ToolName: name,
		CallID:   decID,
		Content:  req.Arguments,
		ToolParams: map[string]any{
			"server_label": req.ServerLabel,
		},
	}

	if run.Remote != nil && run.Remote.ResolveApproval != nil {
		info := ActionInfo{Type: guard.ActionHostedApproval, ToolName: name, CallID: callID, Agent: st.agent.Name, Turn: st.turn}
		e.hooks.emitActionStart(ctx, info)
		approve, err := run.Remote.ResolveApproval(ctx, req)
		e.hooks.emitActionEnd(ctx, info, fmt.Sprintf("approve=%t", approve), err)
		if err != nil {
			return nil, nil, fmt.Errorf("remote approval resolver for %s: %w", req.ServerLabel, err)
		}
		if approve {
			st.agentCtx.ApproveTool(name, decID)
		} else {
			st.agentCtx.RejectTool(name, decID)
		}
		e.auditAction(ctx, st, action, guard.Result{RiskLevel: guard.RiskMedium, Decision: guard.DecisionAllow}, "", approvalStatusFor(approve), "remote_resolver")
		return approvalResponseItem(st.turn, run.Index, st.agent.Name, name, callID, approve, run.Raw), nil, nil
	}

	switch st.agentCtx.ApprovalState(name, decID) {
	case guard.StateApproved:
		return approvalResponseItem(st.turn, run.Index, st.agent.Name, name, callID, true, run.Raw), nil, nil
	case guard.StateRejected:
		return approvalResponseItem(st.turn, run.Index, st.agent.Name, name, callID, false, run.Raw), nil, nil
	default:
		return nil, &pendingAction{
			index:  run.Index,
			item:   placeholderItem(st.turn, run.Index, st.agent.Name, name, callID, run.Raw),
			action: action,
		}, nil
	}
}

// decideApproval computes the tri-state outcome for one action. A tool
// implementing ApprovalRequirer owns the judgment; otherwise the guard
// policy decides. Only actions that need approval consult the decision
// store.
func (e *Engine) decideApproval(ctx context.Context, st *loopState, impl any, params map[string]any, callID string, action guard.Action) (guard.DecisionState, error) {
	needs := false
	if requirer, ok := impl.(tools.ApprovalRequirer); ok && requirer != nil {
		var err error
		needs, err = requirer.NeedsApproval(ctx, params, callID)
		if err != nil {
			return "", fmt.Errorf("needs_approval check for %s: %w", action.ToolName, err)
		}
	} else if e.guard != nil && e.guard.Enabled() {
		needs = e.guard.RequiresApproval(action)
	}
	if !needs {
		return guard.StateApproved, nil
	}
	return st.agentCtx.ApprovalState(action.ToolName, action.CallID), nil
}

// invoke runs one approved action through the guardrail pipeline. The
// end lifecycle hook fires on every exit, including a handler panic
// (propagated by the errgroup) and a tripwire halt. A handler returning
// an error yields an unhappy textual result, not a run failure;
// cancellation and tripwires abort.
func (e *Engine) invoke(ctx context.Context, st *loopState, info ActionInfo, action guard.Action, guarded tools.Guarded, in tools.ToolInput, exec func(context.Context) (string, error)) (out string, err error) {
	e.hooks.emitActionStart(ctx, info)
	defer func() {
		e.hooks.emitActionEnd(ctx, info, out, err)
	}()

	started := time.Now()
	startAttrs := []any{"type", string(info.Type), "tool", info.ToolName, "call_id", info.CallID, "turn", st.turn}
	if e.logOpts.IncludeParams {
		if params := sanitizeParams(in.Params, e.logOpts); params != nil {
			startAttrs = append(startAttrs, "params", params)
		}
	}
	st.log.Debug("action_started", startAttrs...)

	var gres guard.Result
	if e.guard != nil && e.guard.Enabled() {
		gres, err = e.guard.Evaluate(ctx, e.guardMeta(st), action)
		if err != nil {
			return "", err
		}
		if gres.Decision == guard.DecisionDeny {
			out = fmt.Sprintf("Call to %s was denied by policy: %s.", info.ToolName, strings.Join(gres.Reasons, "; "))
			e.auditAction(ctx, st, action, gres, "", "", "engine")
			return out, nil
		}
	}

	if guarded != nil {
		for _, gr := range guarded.InputGuardrails() {
			if gr.Check == nil {
				continue
			}
			res, gerr := gr.Check(ctx, in)
			if gerr != nil {
				err = fmt.Errorf("input guardrail %s on %s: %w", gr.Name, info.ToolName, gerr)
				return "", err
			}
			switch tools.NormalizeVerdict(res.Verdict) {
			case tools.VerdictHalt:
				err = &TripwireError{Guardrail: gr.Name, ToolName: info.ToolName, Reason: res.Reason}
				return "", err
			case tools.VerdictReject:
				out = res.ReplacementText
				if out == "" {
					out = fmt.Sprintf("Call to %s was blocked by guardrail %s.", info.ToolName, gr.Name)
				}
				st.log.Info("input_guardrail_rejected", "guardrail", gr.Name, "tool", info.ToolName, "turn", st.turn)
				return out, nil
			}
		}
	}

	result, execErr := exec(ctx)
	if execErr != nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			return "", err
		}
		result = "Error: " + execErr.Error()
	}
	out = result

	if guarded != nil {
		for _, gr := range guarded.OutputGuardrails() {
			if gr.Check == nil {
				continue
			}
			res, gerr := gr.Check(ctx, tools.ToolOutput{ToolName: info.ToolName, CallID: info.CallID, Params: in.Params, Output: out})
			if gerr != nil {
				err = fmt.Errorf("output guardrail %s on %s: %w", gr.Name, info.ToolName, gerr)
				return "", err
			}
			switch tools.NormalizeVerdict(res.Verdict) {
			case tools.VerdictHalt:
				err = &TripwireError{Guardrail: gr.Name, ToolName: info.ToolName, Reason: res.Reason}
				return "", err
			case tools.VerdictReject:
				out = res.ReplacementText
				if out == "" {
					out = fmt.Sprintf("Result of %s was withheld by guardrail %s.", info.ToolName, gr.Name)
				}
				st.log.Info("output_guardrail_rewrote", "guardrail", gr.Name, "tool", info.ToolName, "turn", st.turn)
			}
		}
	}

	e.auditAction(ctx, st, action, gres, "", "", "engine")
	attrs := []any{"type", string(info.Type), "tool", info.ToolName, "call_id", info.CallID, "turn", st.turn, "duration_ms", time.Since(started).Milliseconds()}
	if e.logOpts.IncludeParams {
		if params := sanitizeParams(in.Params, e.logOpts); params != nil {
			attrs = append(attrs, "params", params)
		}
	}
	if e.logOpts.IncludeResults {
		attrs = append(attrs, "result", truncateForLog(out, e.logOpts))
	}
	st.log.Info("action_completed", attrs...)
	return out, nil
}

func (e *Engine) auditAction(ctx context.Context, st *loopState, action guard.Action, res guard.Result, approvalID string, approvalStatus guard.ApprovalStatus, actor string) {
	if e.guard == nil || !e.guard.Enabled() {
		return
	}
	e.guard.Audit(ctx, e.guardMeta(st), action, res, approvalID, approvalStatus, actor)
}

func (e *Engine) guardMeta(st *loopState) guard.Meta {
	return guard.Meta{RunID: st.runID, Turn: st.turn, Time: time.Now().UTC()}
}

func approvalStatusFor(approve bool) guard.ApprovalStatus {
	if approve {
		return guard.ApprovalApproved
	}
	return guard.ApprovalRejected
}

// parseToolArguments parses a function call's raw argument string
// before any approval resolution. Tools without a declared schema get
// raw text wrapped under "input"; for tools with a schema a parse
// failure is returned to the caller, which converts it into a
// corrective result so the model can retry with valid arguments.
func parseToolArguments(raw string, schema string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err == nil {
		if params == nil {
			params = map[string]any{}
		}
		return params, nil
	}
	if err := jsonutil.DecodeWithFallback(raw, &params); err == nil && params != nil {
		return params, nil
	}
	if strings.TrimSpace(schema) == "" {
		return map[string]any{"input": raw}, nil
	}
	return nil, fmt.Errorf("arguments are not a valid JSON object")
}

// decodeActionPayload decodes a raw computer/shell/patch payload twice:
// once into the generic map the guard hashes and summarizes, once into
// the typed action the handler executes.
func decodeActionPayload[T any](raw json.RawMessage, decode func(json.RawMessage) (T, error)) (map[string]any, T, error) {
	var zero T
	if len(raw) == 0 {
		return nil, zero, fmt.Errorf("empty action payload")
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, zero, err
	}
	decoded, err := decode(raw)
	if err != nil {
		return nil, zero, err
	}
	return params, decoded, nil
}

func actionKey(callID string, raw *llm.OutputItem) string {
	if id := strings.TrimSpace(callID); id != "" {
		return "call|" + id
	}
	if raw != nil && strings.TrimSpace(raw.ID) != "" {
		return "id|" + strings.TrimSpace(raw.ID)
	}
	if raw != nil {
		if h, err := guard.StructuralHash(raw); err == nil {
			return "hash|" + h
		}
	}
	return ""
}

// decisionID is the identity an action is approved or rejected under.
// Hosted entries may omit a call id; the provider entry id (or a
// structural hash) stands in so two requests never share a decision.
func decisionID(callID string, raw *llm.OutputItem) string {
	if id := strings.TrimSpace(callID); id != "" {
		return id
	}
	return actionKey(callID, raw)
}

func resultItem(turn, index int, agentName, toolName, callID, text string, raw *llm.OutputItem) *Item {
	return &Item{
		ID:       itemID(turn, index, ItemToolResult),
		Kind:     ItemToolResult,
		Agent:    agentName,
		ToolName: toolName,
		CallID:   callID,
		Text:     text,
		Raw:      raw,
	}
}

func rejectionItem(turn, index int, kind ItemKind, agentName, toolName, callID string, raw *llm.OutputItem) *Item {
	return &Item{
		ID:       itemID(turn, index, kind),
		Kind:     kind,
		Agent:    agentName,
		ToolName: toolName,
		CallID:   callID,
		Text:     fmt.Sprintf("Call to %s was rejected by the approver.", toolName),
		Raw:      raw,
	}
}

func placeholderItem(turn, index int, agentName, toolName, callID string, raw *llm.OutputItem) Item {
	return Item{
		ID:       itemID(turn, index, ItemApprovalRequest),
		Kind:     ItemApprovalRequest,
		Agent:    agentName,
		ToolName: toolName,
		CallID:   callID,
		Text:     fmt.Sprintf("Awaiting approval for %s.", toolName),
		Raw:      raw,
	}
}

func approvalResponseItem(turn, index int, agentName, toolName, callID string, approve bool, raw *llm.OutputItem) *Item {
	verdict := "approved"
	if !approve {
		verdict = "rejected"
	}
	return &Item{
		ID:       itemID(turn, index, ItemToolResult),
		Kind:     ItemToolResult,
		Agent:    agentName,
		ToolName: toolName,
		CallID:   callID,
		Approve:  &approve,
		Text:     fmt.Sprintf("Approval request %s.", verdict),
		Raw:      raw,
	}
}

func truncateForLog(s string, opts LogOptions) string {
	maxBytes := opts.MaxFieldBytes
	if maxBytes <= 0 {
		maxBytes = 2048
	}
	return strutil.TruncateUTF8(s, maxBytes)
}
