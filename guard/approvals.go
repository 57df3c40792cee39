package guard

import (
	"context"
	"errors"
	"strings"
	"time"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// DecisionState is the tri-state answer the dispatcher reads for one
// (tool name, call id) pair. Undecided means no record was resolved
// yet, which keeps the action pending.
type DecisionState string

const (
	StateApproved  DecisionState = "approved"
	StateRejected  DecisionState = "rejected"
	StateUndecided DecisionState = "undecided"
)

var ErrNotFound = errors.New("approval record not found")

// ApprovalRecord is one approval request raised by an interrupted
// turn. ResumeState carries the serialized run snapshot so the run can
// be re-hydrated when the record resolves.
type ApprovalRecord struct {
	ID         string
	RunID      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time

	Status  ApprovalStatus
	Actor   string
	Comment string

	ActionType ActionType
	ToolName   string
	CallID     string
	ActionHash string

	RiskLevel RiskLevel
	Decision  Decision
	Reasons   []string

	ActionSummaryRedacted string

	ResumeState []byte
}

// Expired reports whether the record's TTL has lapsed relative to now.
func (r ApprovalRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// State maps the record onto the dispatcher's tri-state view. An
// approved record past its TTL counts as undecided so a lapsed
// approval never executes; rejection sticks regardless of expiry.
func (r ApprovalRecord) State(now time.Time) DecisionState {
	switch {
	case r.Status == ApprovalApproved && !r.Expired(now):
		return StateApproved
	case r.Status == ApprovalRejected:
		return StateRejected
	default:
		return StateUndecided
	}
}

type ApprovalStore interface {
	Create(ctx context.Context, rec ApprovalRecord) (string, error)
	Get(ctx context.Context, id string) (ApprovalRecord, bool, error)
	// GetByCall returns the most recent record for the pair, so a
	// resumption can re-find the request it raised earlier.
	GetByCall(ctx context.Context, toolName, callID string) (ApprovalRecord, bool, error)
	ListPending(ctx context.Context, runID string) ([]ApprovalRecord, error)
	Resolve(ctx context.Context, id string, status ApprovalStatus, actor string, comment string) error
	// AttachResumeState replaces the record's serialized snapshot. The
	// engine refreshes every still-pending record at each interruption
	// so any of them can re-hydrate the latest history; it clears the
	// state (nil) once a record's resumption has been applied.
	AttachResumeState(ctx context.Context, id string, state []byte) error
}

func normalizeCallKey(toolName, callID string) (string, string) {
	return strings.TrimSpace(toolName), strings.TrimSpace(callID)
}
