package session

import (
	"encoding/json"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	// RunRunning means the run loop is still executing turns.
	RunRunning RunStatus = "running"
	// RunInterrupted means the run stopped mid-turn (pending approvals
	// or cancellation) and can be resumed.
	RunInterrupted RunStatus = "interrupted"
	// RunCompleted means the run produced a final output.
	RunCompleted RunStatus = "completed"
	// RunFailed means the run stopped on a fatal error.
	RunFailed RunStatus = "failed"
)

// RunRecord is the durable header of one run: who executed it, how it
// ended, and (for interrupted runs) the snapshot needed to resume it.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	AgentName   string    `json:"agent_name"`
	Status      RunStatus `json:"status"`
	Input       string    `json:"input,omitempty"`
	FinalOutput string    `json:"final_output,omitempty"`
	Error       string    `json:"error,omitempty"`
	Turns       int       `json:"turns"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Snapshot is the serialized resume state for interrupted runs.
	Snapshot []byte `json:"snapshot,omitempty"`
}

// ItemRecord is one transcript item at a fixed sequence position within a run.
//
// Seq is assigned once when the item is first flushed and never changes.
// Writes are upserts keyed by (run_id, seq): when a resumed run replaces an
// approval placeholder with the real tool result, the result is re-flushed
// at the placeholder's position.
type ItemRecord struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Kind      string          `json:"kind"`
	Agent     string          `json:"agent,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func normalizeRunID(runID string) string {
	return strings.TrimSpace(runID)
}
