// Package guard holds the approval machinery: policy evaluation for
// dispatched actions, persistent approval records, audit events, and
// redaction of the summaries shown to approvers.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionAllowWithRedact Decision = "allow_with_redaction"
	DecisionRequireApproval Decision = "require_approval"
	DecisionDeny            Decision = "deny"
)

// ActionType mirrors the dispatchable action kinds of the turn engine,
// plus the publish step for final output.
type ActionType string

const (
	ActionFunctionCall   ActionType = "function_call"
	ActionComputerCall   ActionType = "computer_call"
	ActionShellCall      ActionType = "shell_call"
	ActionApplyPatch     ActionType = "apply_patch_call"
	ActionHostedApproval ActionType = "hosted_approval"
	ActionOutputPublish  ActionType = "output_publish"
)

type Meta struct {
	RunID string
	Turn  int
	Time  time.Time
}

// Action is the guard's view of one dispatchable action. CallID ties
// the evaluation and any approval record back to the originating
// tool-call record.
type Action struct {
	Type ActionType

	ToolName   string
	CallID     string
	ToolParams map[string]any

	Content string

	URL    string
	Method string
}

type Result struct {
	RiskLevel RiskLevel
	Decision  Decision
	Reasons   []string

	RedactedContent string
}

type AuditEvent struct {
	EventID    string     `json:"event_id"`
	RunID      string     `json:"run_id"`
	Timestamp  time.Time  `json:"ts"`
	Turn       int        `json:"turn"`
	ActionType ActionType `json:"action_type"`
	ToolName   string     `json:"tool_name,omitempty"`
	CallID     string     `json:"call_id,omitempty"`

	ActionSummaryRedacted string `json:"action_summary_redacted"`
	ActionHash            string `json:"action_hash,omitempty"`

	RiskLevel RiskLevel `json:"risk_level"`
	Decision  Decision  `json:"decision"`
	Reasons   []string  `json:"reasons,omitempty"`

	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	ApprovalStatus    string `json:"approval_status,omitempty"`
	Actor             string `json:"actor,omitempty"`
}

func newEventID(meta Meta) string {
	seed := fmt.Sprintf("%s|%d|%s", meta.RunID, meta.Turn, meta.Time.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return "evt_" + hex.EncodeToString(sum[:8])
}

// canonicalJSON renders v with object keys flattened into sorted
// key/value arrays, so structurally equal values hash identically no
// matter the original key order.
func canonicalJSON(v any) ([]byte, error) {
	cv, err := canonicalizeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cv)
}

func canonicalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k)
			vv, err := canonicalizeValue(x[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, vv := range x {
			cv, err := canonicalizeValue(vv)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	case string, float64, bool, nil, int, int64, json.Number:
		return x, nil
	default:
		// Best-effort for JSON-ish values.
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		var y any
		if err := json.Unmarshal(b, &y); err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		return canonicalizeValue(y)
	}
}

// ActionHash returns a stable hex digest of the action. Resume paths
// verify it against the hash stored in the approval record before
// re-dispatching, so an approval cannot be replayed against a
// different action.
func ActionHash(a Action) (string, error) {
	payload := map[string]any{
		"type": string(a.Type),
	}
	if strings.TrimSpace(a.ToolName) != "" {
		payload["tool_name"] = a.ToolName
	}
	if strings.TrimSpace(a.CallID) != "" {
		payload["call_id"] = a.CallID
	}
	if a.ToolParams != nil {
		payload["tool_params"] = a.ToolParams
	}
	if strings.TrimSpace(a.Content) != "" {
		payload["content"] = a.Content
	}
	if strings.TrimSpace(a.URL) != "" {
		payload["url"] = a.URL
	}
	if strings.TrimSpace(a.Method) != "" {
		payload["method"] = a.Method
	}

	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// StructuralHash hashes an arbitrary JSON-ish payload the same way
// ActionHash does. Used as the last-resort approval identity for
// hosted records that expose neither a call id nor an id.
func StructuralHash(v any) (string, error) {
	b, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
