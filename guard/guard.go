package guard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultApprovalTTL = 15 * time.Minute

// Guard evaluates actions against the configured policy, owns the
// approval store and audit sink, and redacts what approvers see.
type Guard struct {
	cfg       Config
	sink      AuditSink
	approvals ApprovalStore
	redactor  *Redactor

	lookupHost LookupHostFunc
}

func New(cfg Config, sink AuditSink, approvals ApprovalStore) *Guard {
	return &Guard{
		cfg:       cfg,
		sink:      sink,
		approvals: approvals,
		redactor:  NewRedactor(cfg.Redaction),
	}
}

// SetLookupHost overrides DNS resolution, for tests.
func (g *Guard) SetLookupHost(fn LookupHostFunc) {
	if g == nil {
		return
	}
	g.lookupHost = fn
}

func (g *Guard) Enabled() bool {
	return g != nil && g.cfg.Enabled
}

func (g *Guard) Approvals() ApprovalStore {
	if g == nil {
		return nil
	}
	return g.approvals
}

// GetApproval looks up one approval record from the configured store.
func (g *Guard) GetApproval(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	if g == nil || g.approvals == nil {
		return ApprovalRecord{}, false, fmt.Errorf("approval store is not configured")
	}
	return g.approvals.Get(ctx, id)
}

func (g *Guard) Redactor() *Redactor {
	if g == nil {
		return nil
	}
	return g.redactor
}

func (g *Guard) ApprovalTTL() time.Duration {
	if g == nil || g.cfg.Approvals.TTL <= 0 {
		return defaultApprovalTTL
	}
	return g.cfg.Approvals.TTL
}

// Evaluate decides what may happen to one action: allow, allow with
// redaction, require approval, or deny. Deny beats approval beats
// allow; an explicit auto-approve entry short-circuits the approval
// requirement but never a deny.
func (g *Guard) Evaluate(ctx context.Context, meta Meta, a Action) (Result, error) {
	_ = ctx
	if g == nil || !g.cfg.Enabled {
		return Result{RiskLevel: RiskLow, Decision: DecisionAllow}, nil
	}

	name := strings.TrimSpace(a.ToolName)

	if inList(g.cfg.Tools.Deny, name) {
		return Result{
			RiskLevel: RiskCritical,
			Decision:  DecisionDeny,
			Reasons:   []string{fmt.Sprintf("tool %q is denied by policy", name)},
		}, nil
	}

	if rawURL := actionURL(a); rawURL != "" {
		if err := g.urlPolicy().CheckURL(rawURL); err != nil {
			return Result{
				RiskLevel: RiskHigh,
				Decision:  DecisionDeny,
				Reasons:   []string{err.Error()},
			}, nil
		}
	}

	risk := g.riskFor(a)

	if g.requiresApprovalLocked(a, name) && !inList(g.cfg.Tools.AutoApprove, name) {
		return Result{
			RiskLevel: risk,
			Decision:  DecisionRequireApproval,
			Reasons:   []string{approvalReason(a, name)},
		}, nil
	}

	if g.cfg.Redaction.Enabled && strings.TrimSpace(a.Content) != "" {
		if red, changed := g.redactor.RedactString(a.Content); changed {
			return Result{
				RiskLevel:       risk,
				Decision:        DecisionAllowWithRedact,
				Reasons:         []string{"content matched redaction patterns"},
				RedactedContent: red,
			}, nil
		}
	}

	return Result{RiskLevel: risk, Decision: DecisionAllow}, nil
}

// RequiresApproval is the dispatcher's policy consult: does this
// action kind/tool need a human decision per config?
func (g *Guard) RequiresApproval(a Action) bool {
	if g == nil || !g.cfg.Enabled {
		return false
	}
	name := strings.TrimSpace(a.ToolName)
	if inList(g.cfg.Tools.AutoApprove, name) {
		return false
	}
	return g.requiresApprovalLocked(a, name)
}

func (g *Guard) requiresApprovalLocked(a Action, name string) bool {
	switch a.Type {
	case ActionShellCall:
		return g.cfg.Shell.RequireApproval
	case ActionApplyPatch:
		return g.cfg.Patch.RequireApproval
	case ActionComputerCall:
		return g.cfg.Computer.RequireApproval
	default:
		return inList(g.cfg.Tools.RequireApproval, name)
	}
}

// Audit emits one event for the action/result pair; failures to write
// audit never fail the action itself.
func (g *Guard) Audit(ctx context.Context, meta Meta, a Action, res Result, approvalID string, approvalStatus ApprovalStatus, actor string) {
	if g == nil || g.sink == nil {
		return
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now().UTC()
	}
	hash, _ := ActionHash(a)
	ev := AuditEvent{
		EventID:               newEventID(meta),
		RunID:                 meta.RunID,
		Timestamp:             meta.Time,
		Turn:                  meta.Turn,
		ActionType:            a.Type,
		ToolName:              a.ToolName,
		CallID:                a.CallID,
		ActionSummaryRedacted: g.SummarizeAction(a),
		ActionHash:            hash,
		RiskLevel:             res.RiskLevel,
		Decision:              res.Decision,
		Reasons:               res.Reasons,
		ApprovalRequestID:     approvalID,
		ApprovalStatus:        string(approvalStatus),
		Actor:                 actor,
	}
	_ = g.sink.Emit(ctx, ev)
}

// SummarizeAction renders a short redacted description suitable for
// approval records and audit lines.
func (g *Guard) SummarizeAction(a Action) string {
	var b strings.Builder
	b.WriteString(string(a.Type))
	if strings.TrimSpace(a.ToolName) != "" {
		fmt.Fprintf(&b, " tool=%s", a.ToolName)
	}
	if strings.TrimSpace(a.CallID) != "" {
		fmt.Fprintf(&b, " call_id=%s", a.CallID)
	}
	if rawURL := actionURL(a); rawURL != "" {
		fmt.Fprintf(&b, " url=%s", rawURL)
	}
	if strings.TrimSpace(a.Content) != "" {
		content := a.Content
		if g != nil {
			content, _ = g.redactor.RedactString(content)
		}
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&b, " content=%s", content)
	}
	out := b.String()
	if g != nil {
		out, _ = g.redactor.RedactString(out)
	}
	return out
}

func (g *Guard) Close() error {
	if g == nil || g.sink == nil {
		return nil
	}
	return g.sink.Close()
}

func (g *Guard) urlPolicy() NetworkPolicy {
	pol := NetworkPolicy{
		AllowedURLPrefixes: g.cfg.Network.URLFetch.AllowedURLPrefixes,
		DenyPrivateIPs:     g.cfg.Network.URLFetch.DenyPrivateIPs,
		ResolveDNS:         g.cfg.Network.URLFetch.ResolveDNS,
		FollowRedirects:    g.cfg.Network.URLFetch.FollowRedirects,
		AllowProxy:         g.cfg.Network.URLFetch.AllowProxy,
		LookupHost:         g.lookupHost,
	}
	return pol
}

func (g *Guard) riskFor(a Action) RiskLevel {
	switch a.Type {
	case ActionShellCall, ActionApplyPatch:
		return RiskHigh
	case ActionComputerCall:
		return RiskHigh
	case ActionHostedApproval:
		return RiskMedium
	case ActionOutputPublish:
		return RiskLow
	default:
		if actionURL(a) != "" {
			return RiskMedium
		}
		return RiskLow
	}
}

func actionURL(a Action) string {
	if u := strings.TrimSpace(a.URL); u != "" {
		return u
	}
	if a.ToolParams == nil {
		return ""
	}
	if v, ok := a.ToolParams["url"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func approvalReason(a Action, name string) string {
	switch a.Type {
	case ActionShellCall:
		return "shell commands require approval"
	case ActionApplyPatch:
		return "file patches require approval"
	case ActionComputerCall:
		return "computer actions require approval"
	default:
		return fmt.Sprintf("tool %q requires approval", name)
	}
}

func inList(list []string, name string) bool {
	if name == "" {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return true
		}
	}
	return false
}
