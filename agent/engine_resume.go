package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/session"
)

// Resume re-hydrates an interrupted run from the snapshot attached to
// an approval record and re-enters the loop at the interrupted turn.
// The interrupted response is re-classified, actions whose results are
// already in the item log are skipped, and the record's decision is
// applied to exactly the action it was raised for: before anything
// executes, that action is rebuilt from the snapshot and its hash is
// checked against the hash captured when the approval was requested.
//
// A rejected record resumes too; the run continues with a rejection
// result so the model can take a different path. A record whose
// snapshot has been consumed by an earlier resumption cannot re-run
// the action again.
func (e *Engine) Resume(ctx context.Context, approvalRequestID string, roster Roster) (*Final, *Context, error) {
	if e == nil || e.guard == nil || !e.guard.Enabled() {
		return nil, nil, fmt.Errorf("guard is not enabled")
	}
	id := strings.TrimSpace(approvalRequestID)
	if id == "" {
		return nil, nil, fmt.Errorf("missing approval_request_id")
	}

	rec, ok, err := e.guard.GetApproval(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("approval not found: %s", id)
	}

	now := time.Now().UTC()
	switch rec.State(now) {
	case guard.StateApproved, guard.StateRejected:
	default:
		if rec.Expired(now) {
			return nil, nil, fmt.Errorf("approval is expired: %s", id)
		}
		return &Final{
			RunID: rec.RunID,
			Output: PendingOutput{
				Status:             "pending_approval",
				ApprovalRequestID:  id,
				ApprovalRequestIDs: []string{id},
				Message:            fmt.Sprintf("Approval is not decided yet (status=%s).", rec.Status),
			},
		}, nil, nil
	}

	snap := rec.ResumeState
	if len(snap) == 0 && e.store != nil {
		if run, found, gerr := e.store.GetRun(ctx, rec.RunID); gerr == nil && found {
			snap = run.Snapshot
		}
	}
	if len(snap) == 0 {
		return nil, nil, fmt.Errorf("approval has no resume_state: %s", id)
	}

	rs, err := unmarshalRunState(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("decode resume_state: %w", err)
	}
	if rs.Version != 0 && rs.Version != 1 {
		return nil, nil, fmt.Errorf("unsupported resume_state version: %d", rs.Version)
	}

	ag := roster[rs.Agent]
	if ag == nil {
		return nil, nil, &UnknownHandoffError{Name: rs.Agent}
	}

	st := e.restoreLoopState(rs, ag)

	if err := e.verifyPendingAction(ctx, st, rec); err != nil {
		return nil, nil, err
	}

	switch rec.Status {
	case guard.ApprovalApproved:
		st.agentCtx.ApproveTool(rec.ToolName, rec.CallID)
	default:
		st.agentCtx.RejectTool(rec.ToolName, rec.CallID)
	}

	// Consume the record's snapshot once the re-dispatched work is
	// durable. Failing before that point leaves the record resumable.
	st.afterPersist = func(pctx context.Context) {
		if cerr := e.guard.Approvals().AttachResumeState(pctx, id, nil); cerr != nil {
			st.log.Warn("clear_resume_state_failed", "approval_request_id", id, "error", cerr.Error())
		}
	}

	st.log.Info("run_resumed", "approval_request_id", id, "status", string(rec.Status), "turn", rs.Turn)
	e.saveRun(ctx, st, session.RunRunning, "", "", nil)
	return e.runLoop(ctx, st)
}

// ResumeRun re-enters an interrupted run by run id, with no approval
// decision to apply. It serves runs suspended by cancellation: the
// suspended turn's response is re-classified, actions whose results
// made it into the item log are skipped, and the rest dispatch as
// usual. The run row keeps its snapshot until the re-dispatched work
// is durable, so a crash mid-resumption leaves the run resumable.
func (e *Engine) ResumeRun(ctx context.Context, runID string, roster Roster) (*Final, *Context, error) {
	if e == nil || e.store == nil {
		return nil, nil, fmt.Errorf("resume requires a session store")
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return nil, nil, fmt.Errorf("missing run_id")
	}

	run, ok, err := e.store.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("run not found: %s", id)
	}
	if run.Status != session.RunInterrupted {
		return nil, nil, fmt.Errorf("run %s is not interrupted (status=%s)", id, run.Status)
	}
	if len(run.Snapshot) == 0 {
		return nil, nil, fmt.Errorf("run %s has no snapshot", id)
	}

	rs, err := unmarshalRunState(run.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if rs.Version != 0 && rs.Version != 1 {
		return nil, nil, fmt.Errorf("unsupported snapshot version: %d", rs.Version)
	}

	ag := roster[rs.Agent]
	if ag == nil {
		return nil, nil, &UnknownHandoffError{Name: rs.Agent}
	}

	st := e.restoreLoopState(rs, ag)
	st.afterPersist = func(pctx context.Context) {
		e.saveRun(pctx, st, session.RunRunning, "", "", nil)
	}

	st.log.Info("run_resumed", "turn", rs.Turn)
	return e.runLoop(ctx, st)
}

// restoreLoopState rebuilds the loop state of an interrupted turn from
// its snapshot, dedup indexes included, primed to re-classify the
// suspended response instead of asking the model again.
func (e *Engine) restoreLoopState(rs runStateV1, ag *Agent) *loopState {
	st := &loopState{
		runID:          rs.RunID,
		agent:          ag,
		agentCtx:       contextFromRunState(rs),
		log:            e.log.With("run_id", rs.RunID, "agent", ag.Name),
		turn:           rs.Turn,
		messages:       rs.Messages,
		items:          rs.Items,
		persisted:      rs.Persisted,
		rendered:       rs.Rendered,
		extraParams:    rs.ExtraParams,
		meta:           rs.Meta,
		knownIDs:       make(map[string]bool, len(rs.Items)),
		knownApprovals: make(map[string]bool),
		resume:         &resumedTurn{output: rs.LastOutput, text: rs.LastText},
	}
	for _, it := range rs.Items {
		if it.ID != "" {
			st.knownIDs[it.ID] = true
		}
		if it.Kind == ItemApprovalRequest {
			st.knownApprovals[approvalIdentity(it)] = true
		}
	}
	return st
}

// verifyPendingAction replays classification and dispatch over the
// snapshot with the record's decision still unset, so every completed
// action is skipped and the pending ones come back with their guard
// actions rebuilt from the same bytes the real pass will execute. The
// record must match one of them, and when the record carries an action
// hash the rebuilt action must hash to it.
func (e *Engine) verifyPendingAction(ctx context.Context, st *loopState, rec guard.ApprovalRecord) error {
	resp, err := ProcessResponse(st.resume.output, st.agent, st.turn)
	if err != nil {
		return err
	}
	replay, err := e.executeActions(ctx, st, resp, resultKeys(st.items))
	if err != nil {
		return err
	}
	for i := range replay.pending {
		action := replay.pending[i].action
		if action.ToolName != rec.ToolName || action.CallID != rec.CallID {
			continue
		}
		if strings.TrimSpace(rec.ActionHash) == "" {
			return nil
		}
		hash, herr := guard.ActionHash(action)
		if herr != nil {
			return herr
		}
		if hash != rec.ActionHash {
			return fmt.Errorf("approval action_hash mismatch (expected %s)", rec.ActionHash)
		}
		return nil
	}
	return fmt.Errorf("approval %s does not match a pending action of run %s", rec.ID, rec.RunID)
}
