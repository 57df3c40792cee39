package agentcard

import (
	"fmt"
	"strings"

	"github.com/quailyquaily/turnstile/agent"
	"github.com/quailyquaily/turnstile/tools"
)

// BuildRoster materializes non-draft cards into linked agents sharing
// one tool registry. Each agent gets its own registry view restricted
// to the tools its card names; kind handlers and remote tools are
// shared as-is. Handoffs resolve after every agent exists, so cards may
// reference each other in any order.
func BuildRoster(cards []Card, shared *tools.Registry, defaultModel string) (agent.Roster, error) {
	roster := make(agent.Roster)
	byName := make(map[string]*Card)

	for i := range cards {
		card := &cards[i]
		if card.Draft() {
			continue
		}
		if _, dup := roster[card.Name]; dup {
			return nil, fmt.Errorf("duplicate agent card name: %s", card.Name)
		}
		reg, err := registryView(shared, card.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent card %s: %w", card.Name, err)
		}
		model := card.Model
		if model == "" {
			model = defaultModel
		}
		roster[card.Name] = &agent.Agent{
			Name:         card.Name,
			Instructions: card.Instructions,
			Model:        model,
			Tools:        reg,
			OutputSchema: card.OutputSchema,
		}
		byName[card.Name] = card
	}

	for name, ag := range roster {
		card := byName[name]
		for _, targetName := range card.Handoffs {
			target, ok := roster[targetName]
			if !ok {
				return nil, fmt.Errorf("agent card %s hands off to unknown agent %s", name, targetName)
			}
			ag.Handoffs = append(ag.Handoffs, &agent.Handoff{Target: target})
		}
	}
	return roster, nil
}

// registryView restricts a shared registry to the named function tools.
// An empty name list shares the registry directly.
func registryView(shared *tools.Registry, names []string) (*tools.Registry, error) {
	if shared == nil {
		return tools.NewRegistry(), nil
	}
	if len(names) == 0 {
		return shared, nil
	}
	view := tools.NewRegistry()
	for _, name := range names {
		t, ok := shared.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		view.Register(t)
	}
	if h, ok := shared.ComputerHandler(); ok {
		view.SetComputerHandler(h)
	}
	if h, ok := shared.ShellHandler(); ok {
		view.SetShellHandler(h)
	}
	if h, ok := shared.ApplyPatchHandler(); ok {
		view.SetApplyPatchHandler(h)
	}
	for _, label := range shared.RemoteLabels() {
		if r, ok := shared.Remote(label); ok {
			if err := view.RegisterRemote(r); err != nil {
				return nil, err
			}
		}
	}
	return view, nil
}

// Find returns the card with the given name.
func Find(cards []Card, name string) (Card, bool) {
	name = strings.TrimSpace(name)
	for _, c := range cards {
		if c.Name == name {
			return c, true
		}
	}
	return Card{}, false
}
