package agent

// PendingOutput is returned as Final.Output when the run is paused awaiting external approvals.
// It is intentionally small and safe to serialize (no raw tool params or secrets).
type PendingOutput struct {
	Status string `json:"status"`
	// ApprovalRequestID is the first raised request, kept for callers
	// that resume one approval at a time.
	ApprovalRequestID  string   `json:"approval_request_id,omitempty"`
	ApprovalRequestIDs []string `json:"approval_request_ids,omitempty"`
	Message            string   `json:"message"`
}
