// Package agent implements the turn execution engine: response
// classification, concurrent approval-gated action dispatch, and the
// turn state machine (run again / handoff / final output /
// interruption), including resumption of interrupted turns.
package agent

import (
	"encoding/json"
	"strings"

	"github.com/quailyquaily/turnstile/tools"
)

// Agent is one addressable participant of a run: a name, instructions,
// a model, its callable tools, and the handoffs it may perform.
type Agent struct {
	Name         string
	Instructions string
	Model        string

	Tools    *tools.Registry
	Handoffs []*Handoff

	// OutputSchema, when set, makes the resolver validate the final
	// assistant text against it before finalizing. Validation failure is
	// fatal.
	OutputSchema json.RawMessage

	Hooks *AgentHooks
}

// findHandoff resolves a function-call name against the agent's
// handoffs. Handoffs take naming priority over same-named function
// tools.
func (a *Agent) findHandoff(name string) (*Handoff, bool) {
	if a == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for _, h := range a.Handoffs {
		if h != nil && h.name() == name {
			return h, true
		}
	}
	return nil, false
}

// Roster maps agent names to agents so a resumption can re-bind the
// snapshot's agent name to live tool and handoff registrations.
type Roster map[string]*Agent

// RosterOf builds a roster from the given agents plus every handoff
// target reachable from them.
func RosterOf(agents ...*Agent) Roster {
	roster := make(Roster)
	var add func(a *Agent)
	add = func(a *Agent) {
		if a == nil {
			return
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return
		}
		if _, seen := roster[name]; seen {
			return
		}
		roster[name] = a
		for _, h := range a.Handoffs {
			if h != nil {
				add(h.Target)
			}
		}
	}
	for _, a := range agents {
		add(a)
	}
	return roster
}
