package agent

import (
	"strings"

	"github.com/quailyquaily/turnstile/llm"
	"github.com/quailyquaily/turnstile/tools"
)

// FunctionRun is one pending function-tool action: the raw call paired
// with its resolved tool.
type FunctionRun struct {
	Index int
	Tool  tools.Tool
	Call  llm.ToolCall
	Raw   *llm.OutputItem
}

// HandoffRun is one pending handoff request.
type HandoffRun struct {
	Index   int
	Handoff *Handoff
	Call    llm.ToolCall
	Raw     *llm.OutputItem
}

// ComputerRun is one pending computer-control action.
type ComputerRun struct {
	Index   int
	Handler tools.ComputerHandler
	Call    llm.ComputerCall
	Raw     *llm.OutputItem
}

// ShellRun is one pending shell action.
type ShellRun struct {
	Index   int
	Handler tools.ShellHandler
	Call    llm.ShellCall
	Raw     *llm.OutputItem
}

// PatchRun is one pending apply-patch action.
type PatchRun struct {
	Index   int
	Handler tools.ApplyPatchHandler
	Call    llm.ApplyPatchCall
	Raw     *llm.OutputItem
}

// ApprovalRun is one pending remote-approval round-trip.
type ApprovalRun struct {
	Index   int
	Remote  *tools.Remote
	Request tools.HostedRequest
	Raw     *llm.OutputItem
}

// ProcessedResponse is the classifier's output for one model response:
// the ordered new history items plus the per-kind pending action lists.
// Index fields record each action's emission position in the response,
// which the dispatcher uses to re-sequence results after concurrent
// completion.
type ProcessedResponse struct {
	NewItems []Item

	Functions []FunctionRun
	Handoffs  []HandoffRun
	Computers []ComputerRun
	Shells    []ShellRun
	Patches   []PatchRun
	Approvals []ApprovalRun

	ToolsUsed []string
}

// HasActions reports whether any dispatchable work is outstanding.
func (p *ProcessedResponse) HasActions() bool {
	if p == nil {
		return false
	}
	return len(p.Functions)+len(p.Handoffs)+len(p.Computers)+len(p.Shells)+len(p.Patches)+len(p.Approvals) > 0
}

// lastAssistantText returns the text of the response's last assistant
// message item, if any.
func (p *ProcessedResponse) lastAssistantText() (string, bool) {
	if p == nil {
		return "", false
	}
	for i := len(p.NewItems) - 1; i >= 0; i-- {
		if p.NewItems[i].Kind == ItemMessage {
			return p.NewItems[i].Text, true
		}
	}
	return "", false
}

func isAssistantRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), "assistant")
}

// ProcessResponse classifies one model response into history items and
// pending actions. Entries are visited in order; each raw tool-call
// record maps to exactly one history item and at most one action.
// Unresolved tool, handoff, or server references fail fatally: they
// signal a model/registration mismatch, not a transient fault, so no
// partial items are committed and the turn is never retried. Entries
// with an unrecognized kind tag are skipped.
func ProcessResponse(entries []llm.OutputItem, ag *Agent, turn int) (*ProcessedResponse, error) {
	out := &ProcessedResponse{}
	agentName := ""
	if ag != nil {
		agentName = ag.Name
	}

	for i := range entries {
		entry := entries[i]
		raw := &entries[i]

		switch entry.Kind {
		case llm.OutputMessage:
			if !isAssistantRole(entry.Role) {
				continue
			}
			out.NewItems = append(out.NewItems, Item{
				ID:    itemID(turn, i, ItemMessage),
				Kind:  ItemMessage,
				Agent: agentName,
				Role:  "assistant",
				Text:  entry.Text,
				Raw:   raw,
			})

		case llm.OutputReasoning:
			out.NewItems = append(out.NewItems, Item{
				ID:    itemID(turn, i, ItemReasoning),
				Kind:  ItemReasoning,
				Agent: agentName,
				Text:  entry.Text,
				Raw:   raw,
			})

		case llm.OutputComputerCall:
			if entry.Computer == nil {
				continue
			}
			handler, ok := registryComputer(ag)
			if !ok {
				return nil, &UnknownToolError{Kind: "computer_call"}
			}
			out.NewItems = append(out.NewItems, Item{
				ID:       itemID(turn, i, ItemToolCall),
				Kind:     ItemToolCall,
				Agent:    agentName,
				ToolName: handler.Name(),
				CallID:   entry.Computer.CallID,
				Raw:      raw,
			})
			out.Computers = append(out.Computers, ComputerRun{Index: i, Handler: handler, Call: *entry.Computer, Raw: raw})
			out.ToolsUsed = append(out.ToolsUsed, handler.Name())

		case llm.OutputShellCall:
			if entry.Shell == nil {
				continue
			}
			handler, ok := registryShell(ag)
			if !ok {
				return nil, &UnknownToolError{Kind: "shell_call"}
			}
			out.NewItems = append(out.NewItems, Item{
				ID:       itemID(turn, i, ItemToolCall),
				Kind:     ItemToolCall,
				Agent:    agentName,
				ToolName: handler.Name(),
				CallID:   entry.Shell.CallID,
				Raw:      raw,
			})
			out.Shells = append(out.Shells, ShellRun{Index: i, Handler: handler, Call: *entry.Shell, Raw: raw})
			out.ToolsUsed = append(out.ToolsUsed, handler.Name())

		case llm.OutputApplyPatchCall:
			if entry.ApplyPatch == nil {
				continue
			}
			handler, ok := registryApplyPatch(ag)
			if !ok {
				return nil, &UnknownToolError{Kind: "apply_patch_call"}
			}
			out.NewItems = append(out.NewItems, Item{
				ID:       itemID(turn, i, ItemToolCall),
				Kind:     ItemToolCall,
				Agent:    agentName,
				ToolName: handler.Name(),
				CallID:   entry.ApplyPatch.CallID,
				Raw:      raw,
			})
			out.Patches = append(out.Patches, PatchRun{Index: i, Handler: handler, Call: *entry.ApplyPatch, Raw: raw})
			out.ToolsUsed = append(out.ToolsUsed, handler.Name())

		case llm.OutputHostedCall:
			if entry.Hosted == nil {
				continue
			}
			hosted := entry.Hosted
			out.NewItems = append(out.NewItems, Item{
				ID:       itemID(turn, i, ItemToolCall),
				Kind:     ItemToolCall,
				Agent:    agentName,
				ToolName: hosted.Name,
				CallID:   hosted.CallID,
				Raw:      raw,
			})
			if hosted.Name != "" {
				out.ToolsUsed = append(out.ToolsUsed, hosted.Name)
			}
			if hosted.Type != llm.HostedApprovalRequest {
				continue
			}
			remote, ok := registryRemote(ag, hosted.ServerLabel)
			if !ok {
				return nil, &UnknownServerError{Label: hosted.ServerLabel}
			}
			out.Approvals = append(out.Approvals, ApprovalRun{
				Index:  i,
				Remote: remote,
				Request: tools.HostedRequest{
					ServerLabel: hosted.ServerLabel,
					ToolName:    hosted.Name,
					CallID:      hosted.CallID,
					ID:          hosted.ID,
					Arguments:   hosted.Arguments,
				},
				Raw: raw,
			})

		case llm.OutputFunctionCall:
			if entry.Call == nil {
				continue
			}
			call := *entry.Call
			name := strings.TrimSpace(call.Name)
			if handoff, ok := findHandoff(ag, name); ok {
				out.NewItems = append(out.NewItems, Item{
					ID:       itemID(turn, i, ItemHandoffCall),
					Kind:     ItemHandoffCall,
					Agent:    agentName,
					ToolName: name,
					CallID:   call.ID,
					Raw:      raw,
				})
				out.Handoffs = append(out.Handoffs, HandoffRun{Index: i, Handoff: handoff, Call: call, Raw: raw})
				out.ToolsUsed = append(out.ToolsUsed, name)
				continue
			}
			if tool, ok := registryTool(ag, name); ok {
				out.NewItems = append(out.NewItems, Item{
					ID:       itemID(turn, i, ItemToolCall),
					Kind:     ItemToolCall,
					Agent:    agentName,
					ToolName: name,
					CallID:   call.ID,
					Raw:      raw,
				})
				out.Functions = append(out.Functions, FunctionRun{Index: i, Tool: tool, Call: call, Raw: raw})
				out.ToolsUsed = append(out.ToolsUsed, name)
				continue
			}
			return nil, &UnknownToolError{Kind: "tool", Name: name}

		default:
			// Unrecognized kind: skip for forward compatibility.
		}
	}
	return out, nil
}

func findHandoff(ag *Agent, name string) (*Handoff, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.findHandoff(name)
}

func registryTool(ag *Agent, name string) (tools.Tool, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.Tools.Get(name)
}

func registryComputer(ag *Agent) (tools.ComputerHandler, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.Tools.ComputerHandler()
}

func registryShell(ag *Agent) (tools.ShellHandler, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.Tools.ShellHandler()
}

func registryApplyPatch(ag *Agent) (tools.ApplyPatchHandler, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.Tools.ApplyPatchHandler()
}

func registryRemote(ag *Agent, label string) (*tools.Remote, bool) {
	if ag == nil {
		return nil, false
	}
	return ag.Tools.Remote(label)
}
