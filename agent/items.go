package agent

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/llm"
)

// ItemKind tags one history item. The set is closed; consumers switch
// exhaustively over it.
type ItemKind string

const (
	ItemMessage         ItemKind = "message"
	ItemReasoning       ItemKind = "reasoning"
	ItemToolCall        ItemKind = "tool_call"
	ItemToolResult      ItemKind = "tool_result"
	ItemHandoffCall     ItemKind = "handoff_call"
	ItemHandoffResult   ItemKind = "handoff_result"
	ItemApprovalRequest ItemKind = "approval_request"
)

// Item is one entry of the run-wide history log. Items are immutable
// once appended; a turn only ever adds new ones. IDs are derived from
// (turn, emission index, kind), so re-classifying the same response
// during resumption regenerates identical ids and dedup can key on
// them instead of pointer identity.
type Item struct {
	ID    string   `json:"id"`
	Kind  ItemKind `json:"kind"`
	Agent string   `json:"agent,omitempty"`

	// Role and Text carry message/reasoning content; for result items
	// Text is the output sent back to the model.
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`

	// Target is the destination agent of a handoff result.
	Target string `json:"target,omitempty"`

	// ApprovalID links an approval placeholder to its guard record.
	ApprovalID string `json:"approval_id,omitempty"`

	// Approve carries the decision on a hosted approval response item.
	Approve *bool `json:"approve,omitempty"`

	// Raw is the wire-shaped record the item was built from.
	Raw *llm.OutputItem `json:"raw,omitempty"`
}

func itemID(turn, index int, kind ItemKind) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d/%d/%s", turn, index, kind)))
	return "itm_" + hex.EncodeToString(sum[:8])
}

// approvalIdentity derives the dedup key for an approval placeholder:
// (record type, call id), falling back to (record type, id), falling
// back to a structural hash of the raw record. Hosted kinds do not
// always expose a call id; the fallback chain keeps the identity stable
// across serialized resumptions anyway.
func approvalIdentity(it Item) string {
	typ := string(it.Kind)
	if it.Raw != nil {
		typ = string(it.Raw.Kind)
		if it.Raw.Hosted != nil && strings.TrimSpace(it.Raw.Hosted.Type) != "" {
			typ = strings.TrimSpace(it.Raw.Hosted.Type)
		}
	}
	if callID := strings.TrimSpace(it.CallID); callID != "" {
		return typ + "|call|" + callID
	}
	if it.Raw != nil && strings.TrimSpace(it.Raw.ID) != "" {
		return typ + "|id|" + strings.TrimSpace(it.Raw.ID)
	}
	if it.Raw != nil {
		if h, err := guard.StructuralHash(it.Raw); err == nil {
			return typ + "|hash|" + h
		}
	}
	return typ + "|item|" + it.ID
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 8
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newRunID() string      { return "run_" + randHex(8) }
func newApprovalID() string { return "apr_" + randHex(12) }
