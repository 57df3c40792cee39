package llm

import "encoding/json"

// OutputKind tags one entry of a model response. The set is closed:
// the classifier handles every kind below exhaustively and treats
// anything else as a no-op for forward compatibility.
type OutputKind string

const (
	OutputMessage        OutputKind = "message"
	OutputReasoning      OutputKind = "reasoning"
	OutputFunctionCall   OutputKind = "function_call"
	OutputComputerCall   OutputKind = "computer_call"
	OutputShellCall      OutputKind = "shell_call"
	OutputApplyPatchCall OutputKind = "apply_patch_call"
	OutputHostedCall     OutputKind = "hosted_call"
)

// OutputItem is one ordered entry of a model response. Exactly the
// payload matching Kind is set; everything else stays nil/zero so the
// struct round-trips JSON without ambiguity.
type OutputItem struct {
	Kind OutputKind `json:"kind"`

	// ID is the provider-assigned entry id, when the provider has one.
	ID string `json:"id,omitempty"`

	// Message fields (Kind == OutputMessage / OutputReasoning).
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	Call       *ToolCall       `json:"call,omitempty"`
	Computer   *ComputerCall   `json:"computer,omitempty"`
	Shell      *ShellCall      `json:"shell,omitempty"`
	ApplyPatch *ApplyPatchCall `json:"apply_patch,omitempty"`
	Hosted     *HostedCall     `json:"hosted,omitempty"`
}

// ComputerCall asks the runtime to perform one computer-control action
// (click, type, screenshot, ...). Action stays raw here; the dispatcher
// decodes it against the registered computer tool.
type ComputerCall struct {
	ID     string          `json:"id,omitempty"`
	CallID string          `json:"call_id"`
	Action json.RawMessage `json:"action,omitempty"`
}

// ShellCall asks the runtime to run shell commands.
type ShellCall struct {
	ID     string          `json:"id,omitempty"`
	CallID string          `json:"call_id"`
	Action json.RawMessage `json:"action,omitempty"`
}

// ApplyPatchCall asks the runtime to create, update or delete a file.
type ApplyPatchCall struct {
	ID        string          `json:"id,omitempty"`
	CallID    string          `json:"call_id"`
	Operation json.RawMessage `json:"operation,omitempty"`
}

// HostedCall is a call executed on a remote server rather than by this
// runtime. Type discriminates the hosted payload; HostedApprovalRequest
// is the one the engine must act on (approve/reject round-trip).
type HostedCall struct {
	ID          string `json:"id,omitempty"`
	CallID      string `json:"call_id,omitempty"`
	Type        string `json:"type"`
	ServerLabel string `json:"server_label,omitempty"`
	Name        string `json:"name,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
}

// HostedApprovalRequest is the HostedCall.Type value marking a hosted
// entry as a remote-approval request.
const HostedApprovalRequest = "approval_request"
