package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/agent"
	"github.com/quailyquaily/turnstile/agentcard"
	"github.com/quailyquaily/turnstile/internal/clifmt"
	"github.com/quailyquaily/turnstile/internal/pathutil"
	"github.com/quailyquaily/turnstile/internal/statepaths"
	"github.com/quailyquaily/turnstile/tools"
)

func agentsDir() string {
	dir := strings.TrimSpace(viper.GetString("agents.dir"))
	if dir == "" {
		dir = statepaths.FileStateDir() + "/agents"
	}
	return pathutil.ExpandHomePath(dir)
}

// loadRoster builds the live agent roster. Cards in the agents dir win;
// when the dir is absent or empty a single default agent is synthesized
// from config so `turnstile run` works out of the box.
func loadRoster(reg *tools.Registry) (agent.Roster, error) {
	dir := agentsDir()
	if _, err := os.Stat(dir); err == nil {
		cards, lerr := agentcard.LoadDir(dir)
		if lerr != nil {
			return nil, lerr
		}
		if len(cards) > 0 {
			return agentcard.BuildRoster(cards, reg, llmModelFromViper())
		}
	}
	ag := defaultAgent(reg)
	return agent.RosterOf(ag), nil
}

func defaultAgent(reg *tools.Registry) *agent.Agent {
	name := strings.TrimSpace(viper.GetString("agent.name"))
	if name == "" {
		name = "assistant"
	}
	instructions := strings.TrimSpace(viper.GetString("agent.instructions"))
	if instructions == "" {
		instructions = "You are a capable assistant. Use the available tools when they help, and answer plainly when they do not."
	}
	return &agent.Agent{
		Name:         name,
		Instructions: instructions,
		Model:        llmModelFromViper(),
		Tools:        reg,
	}
}

// pickAgent resolves which roster agent drives a run.
func pickAgent(roster agent.Roster, name string) (*agent.Agent, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		ag, ok := roster[name]
		if !ok {
			return nil, fmt.Errorf("unknown agent: %s", name)
		}
		return ag, nil
	}
	if def := strings.TrimSpace(viper.GetString("agent.name")); def != "" {
		if ag, ok := roster[def]; ok {
			return ag, nil
		}
	}
	if ag, ok := roster["assistant"]; ok {
		return ag, nil
	}
	if len(roster) == 1 {
		for _, ag := range roster {
			return ag, nil
		}
	}
	return nil, fmt.Errorf("several agents are defined; pick one with --agent")
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agent definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agent cards (including drafts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := agentsDir()
			cards, err := agentcard.LoadDir(dir)
			if err != nil {
				if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
					fmt.Println(clifmt.Dim("no agent cards in " + dir + "; the default agent is used"))
					return nil
				}
				return err
			}
			fmt.Println(clifmt.Headerf("agents (%d)", len(cards)))
			for _, c := range cards {
				line := fmt.Sprintf("%s  model=%s tools=%d handoffs=%d", clifmt.Key(c.Name), c.Model, len(c.Tools), len(c.Handoffs))
				if c.Draft() {
					line += "  " + clifmt.Warn("[draft]")
				}
				fmt.Println(line)
				if c.Description != "" {
					fmt.Println("  " + clifmt.Dim(c.Description))
				}
			}
			return nil
		},
	})
	return cmd
}
