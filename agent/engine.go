package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/internal/strutil"
	"github.com/quailyquaily/turnstile/llm"
	"github.com/quailyquaily/turnstile/session"
)

const (
	defaultMaxTurns = 10

	// maxResultBytes caps a tool result's size in the model transcript.
	maxResultBytes = 128 * 1024

	// maxInjectedMetaBytes caps the rendered run-metadata message.
	maxInjectedMetaBytes      = 4 * 1024
	maxInjectedMetaFieldBytes = 1024
)

// Engine drives runs: model call, classify, dispatch, resolve, loop.
type Engine struct {
	client  llm.Client
	log     *slog.Logger
	logOpts LogOptions

	guard *guard.Guard
	store session.Store
	hooks *RunHooks

	maxTurns    int
	extraParams map[string]any
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithLogOptions(opts LogOptions) Option {
	return func(e *Engine) {
		e.logOpts = opts
	}
}

func WithSessionStore(store session.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

func WithRunHooks(h *RunHooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithExtraParams passes provider-specific parameters through on every
// model call (temperature, reasoning effort, ...).
func WithExtraParams(params map[string]any) Option {
	return func(e *Engine) {
		e.extraParams = params
	}
}

func New(client llm.Client, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		log:      slog.Default(),
		logOpts:  DefaultLogOptions(),
		store:    session.NewNoopStore(),
		maxTurns: defaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RunOptions tunes a single run.
type RunOptions struct {
	// RunID, when set, names the run; otherwise one is minted.
	RunID string
	// MaxTurns overrides the engine default for this run.
	MaxTurns int
	// Parameters are merged over the engine's extra model parameters.
	Parameters map[string]any
	// Meta is caller context (trigger, source, ids) injected as a JSON
	// user message before the task.
	Meta map[string]any
}

// Final is the terminal result of a run. Output is the final assistant
// text, or a PendingOutput when the run paused for approval.
type Final struct {
	RunID  string
	Agent  string
	Turns  int
	Output any
}

// loopState is the mutable state of one run loop: the transcript sent
// to the model, the append-only item log, and how much of that log the
// session store has seen.
type loopState struct {
	runID    string
	agent    *Agent
	agentCtx *Context
	log      *slog.Logger

	turn     int
	messages []llm.Message
	items    []Item

	// persisted counts items already flushed to the session store. An
	// interruption rewinds it past the still-pending placeholders so
	// their eventual results re-flush that region in place.
	persisted int

	// rendered counts items already turned into transcript messages.
	// An interrupted turn renders nothing, so resumption replays the
	// whole turn's results to the model exactly once, in log order.
	rendered int

	lastOutput []llm.OutputItem
	lastText   string

	extraParams map[string]any
	meta        map[string]any

	knownIDs       map[string]bool
	knownApprovals map[string]bool

	// resume carries the interrupted turn's response into the first
	// loop iteration instead of a fresh model call.
	resume *resumedTurn

	// afterPersist fires once at the first durable persistence point,
	// letting a resumption consume its approval record only after the
	// re-dispatched work is safely recorded.
	afterPersist func(context.Context)
}

type resumedTurn struct {
	output []llm.OutputItem
	text   string
}

// Run executes a task under the given agent until the turn state
// machine produces a terminal step.
func (e *Engine) Run(ctx context.Context, ag *Agent, task string, opts RunOptions) (*Final, *Context, error) {
	if e == nil || e.client == nil {
		return nil, nil, fmt.Errorf("engine requires a model client")
	}
	if ag == nil {
		return nil, nil, fmt.Errorf("run requires an agent")
	}

	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = newRunID()
	}
	maxTurns := e.maxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}

	agentCtx := NewContext(task, maxTurns)
	st := &loopState{
		runID:          runID,
		agent:          ag,
		agentCtx:       agentCtx,
		log:            e.log.With("run_id", runID, "agent", ag.Name),
		messages:       initialMessages(ag, task, opts.Meta),
		extraParams:    mergeParams(e.extraParams, opts.Parameters),
		meta:           opts.Meta,
		knownIDs:       make(map[string]bool),
		knownApprovals: make(map[string]bool),
	}

	ag.Hooks.emitStart(ctx, ag.Name)
	st.log.Info("run_started", "max_turns", maxTurns, "task_bytes", len(task))
	e.saveRun(ctx, st, session.RunRunning, "", "", nil)

	return e.runLoop(ctx, st)
}

func (e *Engine) runLoop(ctx context.Context, st *loopState) (*Final, *Context, error) {
	for {
		if st.resume != nil {
			st.lastOutput = st.resume.output
			st.lastText = st.resume.text
			st.resume = nil
		} else {
			if st.turn >= st.agentCtx.MaxTurns {
				err := &MaxTurnsError{Limit: st.agentCtx.MaxTurns}
				st.log.Warn("max_turns_exceeded", "turn", st.turn)
				e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
				return nil, st.agentCtx, err
			}
			st.turn++
			res, err := e.chat(ctx, st)
			if err != nil {
				e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
				return nil, st.agentCtx, fmt.Errorf("model call failed: %w", err)
			}
			st.lastOutput = res.Output
			st.lastText = res.Text
		}

		resp, err := ProcessResponse(st.lastOutput, st.agent, st.turn)
		if err != nil {
			st.log.Error("classification_failed", "turn", st.turn, "error", err.Error())
			e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
			return nil, st.agentCtx, err
		}
		st.appendItems(resp.NewItems)

		dres, err := e.executeActions(ctx, st, resp, resultKeys(st.items))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return e.suspendCanceledTurn(ctx, st, err)
			}
			st.log.Error("dispatch_failed", "turn", st.turn, "error", err.Error())
			e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
			return nil, st.agentCtx, err
		}
		st.appendItems(dres.results)

		step, err := e.resolveNextStep(st, resp, dres)
		if err != nil {
			st.log.Error("resolve_failed", "turn", st.turn, "error", err.Error())
			e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
			return nil, st.agentCtx, err
		}

		switch s := step.(type) {
		case StepInterruption:
			return e.raiseInterruption(ctx, st, dres)

		case StepHandoff:
			if err := e.flushItems(ctx, st); err != nil {
				e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
				return nil, st.agentCtx, err
			}
			e.appendTurnMessages(st)
			e.applyHandoff(st, s, dres)

		case StepFinalOutput:
			if err := e.flushItems(ctx, st); err != nil {
				e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
				return nil, st.agentCtx, err
			}
			e.saveRun(ctx, st, session.RunCompleted, s.Output, "", nil)
			st.log.Info("final_output", "turn", st.turn, "output_bytes", len(s.Output))
			return &Final{RunID: st.runID, Agent: st.agent.Name, Turns: st.turn, Output: s.Output}, st.agentCtx, nil

		case StepRunAgain:
			if err := e.flushItems(ctx, st); err != nil {
				e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
				return nil, st.agentCtx, err
			}
			e.appendTurnMessages(st)
		}
	}
}

func (e *Engine) chat(ctx context.Context, st *loopState) (llm.Result, error) {
	req := llm.Request{
		Model:      st.agent.Model,
		Messages:   st.messages,
		Tools:      buildLLMTools(st.agent),
		ForceJSON:  len(st.agent.OutputSchema) > 0,
		Parameters: st.extraParams,
	}
	st.log.Debug("model_call", "turn", st.turn, "messages", len(req.Messages), "tools", len(req.Tools))
	res, err := e.client.Chat(ctx, req)
	if err != nil {
		return llm.Result{}, err
	}
	st.agentCtx.AddUsage(res.Usage, res.Duration)
	return res, nil
}

// appendItems appends items not already in the log. Dedup keys on the
// stable item id and, for approval placeholders, additionally on the
// approval identity, so repeated resumption never double-appends.
func (st *loopState) appendItems(items []Item) int {
	appended := 0
	for _, it := range items {
		if it.ID != "" && st.knownIDs[it.ID] {
			continue
		}
		if it.Kind == ItemApprovalRequest {
			ident := approvalIdentity(it)
			if st.knownApprovals[ident] {
				continue
			}
			st.knownApprovals[ident] = true
		}
		if it.ID != "" {
			st.knownIDs[it.ID] = true
		}
		st.items = append(st.items, it)
		appended++
	}
	return appended
}

// appendTurnMessages extends the model transcript with the turn's
// assistant text and every result item not yet rendered, in log order.
func (e *Engine) appendTurnMessages(st *loopState) {
	if text := strings.TrimSpace(st.lastText); text != "" {
		st.messages = append(st.messages, llm.Message{Role: "assistant", Content: text})
	}
	for _, it := range st.items[st.rendered:] {
		switch it.Kind {
		case ItemToolResult, ItemHandoffResult:
			st.messages = append(st.messages, resultMessage(it))
		}
	}
	st.rendered = len(st.items)
}

func resultMessage(it Item) llm.Message {
	return llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Tool Result (%s): %s", it.ToolName, strutil.TruncateUTF8(it.Text, maxResultBytes)),
	}
}

// applyHandoff swaps the active agent. The winner's input filter, when
// present, rewrites the destination agent's view of the history; the
// persisted item log keeps the unfiltered record.
func (e *Engine) applyHandoff(st *loopState, s StepHandoff, dres *dispatchResult) {
	st.log.Info("handoff", "from", dres.handoffFrom, "to", s.NewAgent.Name, "tool", s.ToolName, "turn", st.turn)
	if dres.inputFilter != nil {
		filtered := dres.inputFilter(append([]Item(nil), st.items...))
		st.messages = append(initialMessages(s.NewAgent, st.agentCtx.Task, st.meta), messagesFromItems(filtered)...)
		st.rendered = len(st.items)
	} else {
		st.messages = retargetSystem(st.messages, s.NewAgent)
	}
	st.agent = s.NewAgent
	st.log = e.log.With("run_id", st.runID, "agent", s.NewAgent.Name)
}

func initialMessages(ag *Agent, task string, meta map[string]any) []llm.Message {
	msgs := make([]llm.Message, 0, 3)
	if instructions := strings.TrimSpace(ag.Instructions); instructions != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: instructions})
	}
	if m, ok := metaMessage(meta); ok {
		msgs = append(msgs, m)
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: task})
	return msgs
}

// metaMessage renders run metadata for the transcript. Oversized values
// are dropped field by field; a payload that still does not fit is
// reduced to the truncation marker alone.
func metaMessage(meta map[string]any) (llm.Message, bool) {
	if len(meta) == 0 {
		return llm.Message{}, false
	}
	payload, err := json.Marshal(map[string]any{"turnstile_meta": meta})
	if err != nil {
		return llm.Message{}, false
	}
	if len(payload) > maxInjectedMetaBytes {
		trimmed := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			b, merr := json.Marshal(v)
			if merr != nil || len(b) > maxInjectedMetaFieldBytes {
				trimmed[k] = "[truncated]"
				continue
			}
			trimmed[k] = v
		}
		trimmed["truncated"] = true
		payload, err = json.Marshal(map[string]any{"turnstile_meta": trimmed})
		if err != nil {
			return llm.Message{}, false
		}
		if len(payload) > maxInjectedMetaBytes {
			payload = []byte(`{"turnstile_meta":{"truncated":true}}`)
		}
	}
	return llm.Message{Role: "user", Content: string(payload)}, true
}

// messagesFromItems renders a filtered item log back into transcript
// form for a handoff destination.
func messagesFromItems(items []Item) []llm.Message {
	out := make([]llm.Message, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case ItemMessage:
			if strings.TrimSpace(it.Text) != "" {
				out = append(out, llm.Message{Role: "assistant", Content: it.Text})
			}
		case ItemToolResult, ItemHandoffResult:
			out = append(out, resultMessage(it))
		}
	}
	return out
}

// retargetSystem swaps the transcript's system message for the new
// agent's instructions.
func retargetSystem(messages []llm.Message, ag *Agent) []llm.Message {
	instructions := strings.TrimSpace(ag.Instructions)
	if len(messages) > 0 && messages[0].Role == "system" {
		if instructions == "" {
			return messages[1:]
		}
		out := append([]llm.Message(nil), messages...)
		out[0].Content = instructions
		return out
	}
	if instructions == "" {
		return messages
	}
	return append([]llm.Message{{Role: "system", Content: instructions}}, messages...)
}

// raiseInterruption pauses the run for external approval. Pending
// placeholders move to the log tail, everything unflushed is persisted,
// and the counter rewinds past the placeholders: when a resumption (or
// a later raise) reorders that tail, the next flush rewrites the same
// rows instead of duplicating them. Every still-pending approval record
// then receives the fresh snapshot so any of them can re-hydrate the
// run.
func (e *Engine) raiseInterruption(ctx context.Context, st *loopState, dres *dispatchResult) (*Final, *Context, error) {
	now := time.Now().UTC()
	guardOn := e.guard != nil && e.guard.Enabled()

	type raisedApproval struct {
		id     string
		create bool
		action guard.Action
	}
	raised := make([]raisedApproval, 0, len(dres.pending))
	pendingIDs := make(map[string]bool, len(dres.pending))

	for i := range dres.pending {
		p := &dres.pending[i]
		recID := ""
		create := false
		if guardOn {
			rec, ok, err := e.guard.Approvals().GetByCall(ctx, p.action.ToolName, p.action.CallID)
			if err != nil {
				return nil, st.agentCtx, fmt.Errorf("lookup approval for %s: %w", p.action.ToolName, err)
			}
			if ok && rec.Status == guard.ApprovalPending && !rec.Expired(now) {
				recID = rec.ID
			}
		}
		if recID == "" {
			recID = newApprovalID()
			create = guardOn
		}
		p.item.ApprovalID = recID
		raised = append(raised, raisedApproval{id: recID, create: create, action: p.action})
		pendingIDs[p.item.ID] = true
	}

	// Move still-pending placeholders to the tail so the rewound counter
	// covers exactly their rows.
	kept := make([]Item, 0, len(st.items))
	for _, it := range st.items {
		if !pendingIDs[it.ID] {
			kept = append(kept, it)
		}
	}
	st.items = kept
	for i := range dres.pending {
		st.knownIDs[dres.pending[i].item.ID] = true
		st.knownApprovals[approvalIdentity(dres.pending[i].item)] = true
		st.items = append(st.items, dres.pending[i].item)
	}

	if err := e.flushItems(ctx, st); err != nil {
		e.saveRun(ctx, st, session.RunFailed, "", err.Error(), nil)
		return nil, st.agentCtx, err
	}
	st.persisted -= len(dres.pending)
	if st.persisted < 0 {
		st.persisted = 0
	}

	snap, err := marshalRunState(st)
	if err != nil {
		return nil, st.agentCtx, fmt.Errorf("serialize run state: %w", err)
	}

	if guardOn {
		meta := e.guardMeta(st)
		for _, r := range raised {
			res, err := e.guard.Evaluate(ctx, meta, r.action)
			if err != nil {
				return nil, st.agentCtx, err
			}
			hash, err := guard.ActionHash(r.action)
			if err != nil {
				return nil, st.agentCtx, fmt.Errorf("hash action %s: %w", r.action.ToolName, err)
			}
			if r.create {
				rec := guard.ApprovalRecord{
					ID:                    r.id,
					RunID:                 st.runID,
					CreatedAt:             now,
					ExpiresAt:             now.Add(e.guard.ApprovalTTL()),
					Status:                guard.ApprovalPending,
					ActionType:            r.action.Type,
					ToolName:              r.action.ToolName,
					CallID:                r.action.CallID,
					ActionHash:            hash,
					RiskLevel:             res.RiskLevel,
					Decision:              res.Decision,
					Reasons:               res.Reasons,
					ActionSummaryRedacted: e.guard.SummarizeAction(r.action),
					ResumeState:           snap,
				}
				if _, err := e.guard.Approvals().Create(ctx, rec); err != nil {
					return nil, st.agentCtx, fmt.Errorf("create approval record: %w", err)
				}
			} else {
				if err := e.guard.Approvals().AttachResumeState(ctx, r.id, snap); err != nil {
					return nil, st.agentCtx, fmt.Errorf("refresh approval %s: %w", r.id, err)
				}
			}
			e.guard.Audit(ctx, meta, r.action, res, r.id, guard.ApprovalPending, "engine")
			st.log.Warn("approval_required",
				"approval_request_id", r.id,
				"tool", r.action.ToolName,
				"call_id", r.action.CallID,
				"risk", string(res.RiskLevel),
				"turn", st.turn,
			)
		}
	} else {
		for _, r := range raised {
			st.log.Warn("approval_required", "tool", r.action.ToolName, "call_id", r.action.CallID, "turn", st.turn)
		}
	}

	e.saveRun(ctx, st, session.RunInterrupted, "", "", snap)

	ids := make([]string, 0, len(raised))
	if guardOn {
		for _, r := range raised {
			ids = append(ids, r.id)
		}
	}
	pending := PendingOutput{
		Status:             "pending_approval",
		ApprovalRequestIDs: ids,
		Message:            fmt.Sprintf("Run is paused: %d action(s) awaiting approval.", len(raised)),
	}
	if len(ids) > 0 {
		pending.ApprovalRequestID = ids[0]
	}
	return &Final{RunID: st.runID, Agent: st.agent.Name, Turns: st.turn, Output: pending}, st.agentCtx, nil
}

// suspendCanceledTurn parks a run whose dispatch pass was cancelled so
// it re-enters the loop the way an interrupted one does: the item log
// is flushed, the turn is snapshotted, and the run row is marked
// interrupted for ResumeRun. Persistence runs on a detached context;
// the cancellation that stopped the turn must not stop the snapshot.
func (e *Engine) suspendCanceledTurn(ctx context.Context, st *loopState, cause error) (*Final, *Context, error) {
	dctx := context.WithoutCancel(ctx)
	if err := e.flushItems(dctx, st); err != nil {
		st.log.Warn("flush_on_cancel_failed", "turn", st.turn, "error", err.Error())
	}
	snap, err := marshalRunState(st)
	if err != nil {
		e.saveRun(dctx, st, session.RunFailed, "", cause.Error(), nil)
		return nil, st.agentCtx, cause
	}
	e.saveRun(dctx, st, session.RunInterrupted, "", cause.Error(), snap)
	st.log.Warn("run_suspended_on_cancel", "turn", st.turn, "error", cause.Error())
	return nil, st.agentCtx, cause
}

// flushItems persists the unflushed log suffix. Rows key on
// (run id, seq) and writes are upserts, so a rewound counter rewrites
// the placeholder region in place instead of duplicating it.
func (e *Engine) flushItems(ctx context.Context, st *loopState) error {
	if e.store == nil || st.persisted >= len(st.items) {
		st.firePersist(ctx)
		return nil
	}
	now := time.Now().UTC()
	recs := make([]session.ItemRecord, 0, len(st.items)-st.persisted)
	for seq := st.persisted; seq < len(st.items); seq++ {
		it := st.items[seq]
		payload, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal item %d: %w", seq, err)
		}
		recs = append(recs, session.ItemRecord{
			RunID:     st.runID,
			Seq:       seq,
			Kind:      string(it.Kind),
			Agent:     it.Agent,
			CallID:    it.CallID,
			Payload:   payload,
			CreatedAt: now,
		})
	}
	if err := e.store.PutItems(ctx, recs); err != nil {
		return fmt.Errorf("flush items: %w", err)
	}
	st.persisted = len(st.items)
	st.firePersist(ctx)
	return nil
}

func (st *loopState) firePersist(ctx context.Context) {
	if st.afterPersist == nil {
		return
	}
	fn := st.afterPersist
	st.afterPersist = nil
	fn(ctx)
}

// saveRun records the run's status row. Best effort: the item log and
// the approval records carry the recoverable state, so a status write
// failure logs and moves on.
func (e *Engine) saveRun(ctx context.Context, st *loopState, status session.RunStatus, finalOutput, errMsg string, snapshot []byte) {
	if e.store == nil {
		return
	}
	now := time.Now().UTC()
	rec := session.RunRecord{
		RunID:       st.runID,
		AgentName:   st.agent.Name,
		Status:      status,
		Input:       st.agentCtx.Task,
		FinalOutput: finalOutput,
		Error:       errMsg,
		Turns:       st.turn,
		CreatedAt:   now,
		UpdatedAt:   now,
		Snapshot:    snapshot,
	}
	if err := e.store.SaveRun(ctx, rec); err != nil {
		st.log.Warn("save_run_failed", "status", string(status), "error", err.Error())
	}
}

func mergeParams(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
