package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/llm"
	"github.com/quailyquaily/turnstile/session"
	"github.com/quailyquaily/turnstile/tools"
)

// approvalTool is a mock tool whose calls always wait for an external
// decision.
type approvalTool struct {
	mockTool
}

func (t *approvalTool) NeedsApproval(context.Context, map[string]any, string) (bool, error) {
	return true, nil
}

func newTestGuard() *guard.Guard {
	cfg := guard.Config{
		Enabled:   true,
		Approvals: guard.ApprovalsConfig{Enabled: true},
	}
	return guard.New(cfg, nil, guard.NewMemoryApprovalStore())
}

func hostedApprovalResult(serverLabel, toolName, callID string) llm.Result {
	return llm.Result{Output: []llm.OutputItem{{
		Kind: llm.OutputHostedCall,
		Hosted: &llm.HostedCall{
			Type:        llm.HostedApprovalRequest,
			ServerLabel: serverLabel,
			Name:        toolName,
			CallID:      callID,
			Arguments:   `{"ticket":"T-1"}`,
		},
	}}}
}

// interruptedRun drives one run up to its first interruption and
// returns the raised approval request id.
func interruptedRun(t *testing.T, g *guard.Guard, ag *Agent, tool *approvalTool) string {
	t.Helper()

	client := newMockClient(callsResult(fnCall("call_1", tool.name, `{"query":"prod"}`)))
	e := New(client, WithGuard(g))

	final, _, err := e.Run(t.Context(), ag, "ship it", RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, ok := final.Output.(PendingOutput)
	if !ok {
		t.Fatalf("expected PendingOutput, got %T", final.Output)
	}
	if tool.callCount() != 0 {
		t.Fatalf("tool executed before approval: %d calls", tool.callCount())
	}
	if len(pending.ApprovalRequestIDs) != 1 || pending.ApprovalRequestID == "" {
		t.Fatalf("expected exactly one approval request, got %+v", pending)
	}
	return pending.ApprovalRequestID
}

func TestRun_UndecidedApprovalInterruptsTurn(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	id := interruptedRun(t, g, ag, tool)

	rec, found, err := g.Approvals().Get(t.Context(), id)
	if err != nil || !found {
		t.Fatalf("expected approval record %s, found=%v err=%v", id, found, err)
	}
	if rec.Status != guard.ApprovalPending {
		t.Fatalf("expected pending record, got %s", rec.Status)
	}
	if rec.ToolName != "deploy" || rec.CallID != "call_1" {
		t.Fatalf("record binds wrong action: tool=%s call=%s", rec.ToolName, rec.CallID)
	}
	if rec.ActionHash == "" {
		t.Fatal("expected record to carry an action hash")
	}
	if len(rec.ResumeState) == 0 {
		t.Fatal("expected record to carry a resume snapshot")
	}
}

func TestRun_SecondInterruptionKeepsSameApprovalRecord(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	first := interruptedRun(t, g, ag, tool)

	// Resuming while the record is still undecided re-raises the same
	// interruption instead of minting a second record.
	e := New(newMockClient(), WithGuard(g))
	final, _, err := e.Resume(t.Context(), first, RosterOf(ag))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	pending, ok := final.Output.(PendingOutput)
	if !ok {
		t.Fatalf("expected PendingOutput, got %T", final.Output)
	}
	if pending.ApprovalRequestID != first {
		t.Fatalf("expected approval id %s, got %s", first, pending.ApprovalRequestID)
	}
	if tool.callCount() != 0 {
		t.Fatalf("tool executed without a decision: %d calls", tool.callCount())
	}
}

func TestResume_ApprovedExecutesActionOnce(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	id := interruptedRun(t, g, ag, tool)
	if err := g.Approvals().Resolve(t.Context(), id, guard.ApprovalApproved, "tester", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	client := newMockClient(messageResult("done"))
	e := New(client, WithGuard(g))
	final, _, err := e.Resume(t.Context(), id, RosterOf(ag))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final.Output != "done" {
		t.Fatalf("expected final output done, got %v", final.Output)
	}
	if tool.callCount() != 1 {
		t.Fatalf("expected exactly one execution, got %d", tool.callCount())
	}

	// The model resumes with the tool's real result in the transcript.
	msgs := client.allCalls()[0].Messages
	if messageIndex(msgs, "Tool Result (deploy): deployed") < 0 {
		t.Fatalf("expected tool result in resumed transcript, got %+v", msgs)
	}
}

func TestResume_ConsumesSnapshotExactlyOnce(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	id := interruptedRun(t, g, ag, tool)
	if err := g.Approvals().Resolve(t.Context(), id, guard.ApprovalApproved, "tester", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	e := New(newMockClient(messageResult("done")), WithGuard(g))
	if _, _, err := e.Resume(t.Context(), id, RosterOf(ag)); err != nil {
		t.Fatalf("first Resume: %v", err)
	}

	// The snapshot is consumed at the first durable point. A replayed
	// resume must not run the action a second time.
	e2 := New(newMockClient(messageResult("done again")), WithGuard(g))
	if _, _, err := e2.Resume(t.Context(), id, RosterOf(ag)); err == nil {
		t.Fatal("expected second resume to fail once the snapshot is consumed")
	}
	if tool.callCount() != 1 {
		t.Fatalf("expected exactly one execution across resumes, got %d", tool.callCount())
	}
}

func TestResume_RejectedContinuesWithoutExecuting(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	id := interruptedRun(t, g, ag, tool)
	if err := g.Approvals().Resolve(t.Context(), id, guard.ApprovalRejected, "tester", "not today"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	client := newMockClient(messageResult("understood"))
	e := New(client, WithGuard(g))
	final, _, err := e.Resume(t.Context(), id, RosterOf(ag))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final.Output != "understood" {
		t.Fatalf("expected final output understood, got %v", final.Output)
	}
	if tool.callCount() != 0 {
		t.Fatalf("rejected action must not execute, got %d calls", tool.callCount())
	}

	msgs := client.allCalls()[0].Messages
	if messageIndex(msgs, "Tool Result (deploy): Call to deploy was rejected") < 0 {
		t.Fatalf("expected rejection result in resumed transcript, got %+v", msgs)
	}
}

func TestResume_UnknownAgentFails(t *testing.T) {
	g := newTestGuard()
	tool := &approvalTool{mockTool{name: "deploy", result: "deployed"}}
	ag := testAgent("deployer", registryWith(tool))

	id := interruptedRun(t, g, ag, tool)
	if err := g.Approvals().Resolve(t.Context(), id, guard.ApprovalApproved, "tester", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	e := New(newMockClient(), WithGuard(g))
	_, _, err := e.Resume(t.Context(), id, Roster{})
	if err == nil {
		t.Fatal("expected error when the snapshot's agent is missing from the roster")
	}
	if _, ok := err.(*UnknownHandoffError); !ok {
		t.Fatalf("expected UnknownHandoffError, got %T: %v", err, err)
	}
}

func TestResume_WithoutGuardFails(t *testing.T) {
	e := New(newMockClient())
	if _, _, err := e.Resume(t.Context(), "apr_x", Roster{}); err == nil {
		t.Fatal("expected error when resuming without a guard")
	}
}

// cancelingTool cancels the run while executing, then blocks until the
// cancellation reaches it.
func cancelingTool(name string, cancel context.CancelFunc) *mockTool {
	return &mockTool{name: name, execute: func(c context.Context, _ map[string]any) (string, error) {
		cancel()
		<-c.Done()
		return "", c.Err()
	}}
}

func TestRun_CanceledDispatchSuspendsRun(t *testing.T) {
	store := session.NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := cancelingTool("deploy", cancel)
	client := newMockClient(callsResult(fnCall("call_1", "deploy", `{"query":"prod"}`)))
	e := New(client, WithSessionStore(store))

	_, _, err := e.Run(ctx, testAgent("ops", registryWith(tool)), "ship it", RunOptions{RunID: "run_c1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	run, ok, gerr := store.GetRun(context.Background(), "run_c1")
	if gerr != nil || !ok {
		t.Fatalf("GetRun: ok=%v err=%v", ok, gerr)
	}
	if run.Status != session.RunInterrupted {
		t.Fatalf("expected interrupted status, got %s", run.Status)
	}
	if len(run.Snapshot) == 0 {
		t.Fatal("expected a resume snapshot on the run row")
	}
}

func TestResumeRun_ReplaysCanceledTurn(t *testing.T) {
	store := session.NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(
		newMockClient(callsResult(fnCall("call_1", "deploy", `{"query":"prod"}`))),
		WithSessionStore(store),
	)
	ag := testAgent("ops", registryWith(cancelingTool("deploy", cancel)))
	if _, _, err := e.Run(ctx, ag, "ship it", RunOptions{RunID: "run_c2"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	tool := &mockTool{name: "deploy", result: "deployed"}
	client := newMockClient(messageResult("shipped"))
	e2 := New(client, WithSessionStore(store))

	final, _, err := e2.ResumeRun(context.Background(), "run_c2", RosterOf(testAgent("ops", registryWith(tool))))
	if err != nil {
		t.Fatalf("ResumeRun: %v", err)
	}
	if final.Output != "shipped" {
		t.Fatalf("expected final output shipped, got %v", final.Output)
	}
	if tool.callCount() != 1 {
		t.Fatalf("expected one execution on resume, got %d", tool.callCount())
	}
	if messageIndex(client.allCalls()[0].Messages, "Tool Result (deploy): deployed") < 0 {
		t.Fatal("expected tool result in resumed transcript")
	}

	run, ok, gerr := store.GetRun(context.Background(), "run_c2")
	if gerr != nil || !ok {
		t.Fatalf("GetRun: ok=%v err=%v", ok, gerr)
	}
	if run.Status != session.RunCompleted {
		t.Fatalf("expected completed status, got %s", run.Status)
	}

	// A finished run has no suspended turn left to re-enter.
	if _, _, err := e2.ResumeRun(context.Background(), "run_c2", RosterOf(testAgent("ops", registryWith(tool)))); err == nil {
		t.Fatal("expected resuming a completed run to fail")
	}
}

func TestResumeRun_UnknownRunFails(t *testing.T) {
	e := New(newMockClient(), WithSessionStore(session.NewFileStore(t.TempDir())))
	if _, _, err := e.ResumeRun(context.Background(), "run_missing", Roster{}); err == nil {
		t.Fatal("expected error for unknown run id")
	}
}

func TestRun_HostedApprovalResolvedSynchronously(t *testing.T) {
	reg := tools.NewRegistry()
	reg.RegisterRemote(&tools.Remote{
		ServerLabel: "acme",
		ResolveApproval: func(context.Context, tools.HostedRequest) (bool, error) {
			return true, nil
		},
	})
	ag := testAgent("clerk", reg)

	client := newMockClient(
		hostedApprovalResult("acme", "create_ticket", "hc_1"),
		messageResult("ticket filed"),
	)
	e := New(client)

	final, _, err := e.Run(t.Context(), ag, "file a ticket", RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Output != "ticket filed" {
		t.Fatalf("expected final output, got %v", final.Output)
	}

	msgs := client.allCalls()[1].Messages
	if messageIndex(msgs, "Tool Result (create_ticket): Approval request approved.") < 0 {
		t.Fatalf("expected approval response in transcript, got %+v", msgs)
	}
}

func TestRun_HostedApprovalUnknownServerFails(t *testing.T) {
	ag := testAgent("clerk", tools.NewRegistry())
	client := newMockClient(hostedApprovalResult("nowhere", "create_ticket", "hc_1"))
	e := New(client)

	_, _, err := e.Run(t.Context(), ag, "file a ticket", RunOptions{})
	if err == nil {
		t.Fatal("expected error for unregistered server label")
	}
	if _, ok := err.(*UnknownServerError); !ok {
		t.Fatalf("expected UnknownServerError, got %T: %v", err, err)
	}
}
