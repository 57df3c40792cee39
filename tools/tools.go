// Package tools defines the tool surface the engine dispatches against:
// named function tools, the single computer/shell/apply-patch handlers,
// and remote (hosted) tools addressed by server label.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is one callable function tool. ParameterSchema returns the JSON
// schema advertised to the model; Execute receives the parsed params.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() string
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ApprovalRequirer is implemented by tools whose calls may need an
// external decision before execution. The engine consults it per call;
// returning false skips the approval store entirely.
type ApprovalRequirer interface {
	NeedsApproval(ctx context.Context, params map[string]any, callID string) (bool, error)
}

// Guarded is implemented by tools that carry their own guardrails. The
// engine runs input guardrails before Execute and output guardrails on
// the result.
type Guarded interface {
	InputGuardrails() []InputGuardrail
	OutputGuardrails() []OutputGuardrail
}

// Registry holds everything dispatchable in one run: function tools by
// name, at most one handler per computer/shell/apply-patch kind, and
// remote tools by server label.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	order   []string
	remotes map[string]*Remote

	computer   ComputerHandler
	shell      ShellHandler
	applyPatch ApplyPatchHandler
}

func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Tool),
		remotes: make(map[string]*Remote),
	}
}

func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// All returns registered function tools in registration order.
func (r *Registry) All() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if t, ok := r.byName[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetComputerHandler installs the handler for computer-call records.
// Only one may be registered; the last call wins.
func (r *Registry) SetComputerHandler(h ComputerHandler) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computer = h
}

func (r *Registry) ComputerHandler() (ComputerHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.computer, r.computer != nil
}

func (r *Registry) SetShellHandler(h ShellHandler) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shell = h
}

func (r *Registry) ShellHandler() (ShellHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shell, r.shell != nil
}

func (r *Registry) SetApplyPatchHandler(h ApplyPatchHandler) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyPatch = h
}

func (r *Registry) ApplyPatchHandler() (ApplyPatchHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applyPatch, r.applyPatch != nil
}

// RegisterRemote binds a remote tool server by label. Labels are unique;
// re-registering a label replaces the prior entry.
func (r *Registry) RegisterRemote(remote *Remote) error {
	if r == nil || remote == nil {
		return fmt.Errorf("nil registry or remote")
	}
	label := strings.TrimSpace(remote.ServerLabel)
	if label == "" {
		return fmt.Errorf("remote tool requires a server label")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[label] = remote
	return nil
}

func (r *Registry) Remote(serverLabel string) (*Remote, bool) {
	if r == nil {
		return nil, false
	}
	serverLabel = strings.TrimSpace(serverLabel)
	r.mu.RLock()
	defer r.mu.RUnlock()
	remote, ok := r.remotes[serverLabel]
	return remote, ok
}

func (r *Registry) RemoteLabels() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.remotes))
	for label := range r.remotes {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
