package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/agent"
	"github.com/quailyquaily/turnstile/db"
	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/internal/clifmt"
)

// runtime bundles everything a run or resume needs.
type runtime struct {
	engine *agent.Engine
	roster agent.Roster
	guard  *guard.Guard
	close  func()
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	log := newLogger()

	client, err := llmClientFromViper(ctx)
	if err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	if needsSharedDB() {
		sqlDB, err = db.Open(ctx, dbConfigFromViper())
		if err != nil {
			return nil, err
		}
	}

	g := guardFromViper(log, sqlDB)
	store := sessionStoreFromViper(log, sqlDB)
	reg := registryFromViper()

	roster, err := loadRoster(reg)
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{
		agent.WithLogger(log),
		agent.WithSessionStore(store),
		agent.WithExtraParams(llmParamsFromViper()),
	}
	if g != nil {
		opts = append(opts, agent.WithGuard(g))
	}
	if n := viper.GetInt("engine.max_turns"); n > 0 {
		opts = append(opts, agent.WithMaxTurns(n))
	}

	return &runtime{
		engine: agent.New(client, opts...),
		roster: roster,
		guard:  g,
		close: func() {
			_ = store.Close()
			if g != nil {
				_ = g.Close()
			}
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

func newRunCmd() *cobra.Command {
	var agentName string
	var maxTurns int

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Execute a task until it finishes or pauses for approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			ag, err := pickAgent(rt.roster, agentName)
			if err != nil {
				return err
			}

			task := strings.TrimSpace(strings.Join(args, " "))
			final, agentCtx, err := rt.engine.Run(ctx, ag, task, agent.RunOptions{
				MaxTurns: maxTurns,
				Meta:     map[string]any{"trigger": "cli"},
			})
			if err != nil {
				return err
			}
			printFinal(final, agentCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent to run (defaults to the configured or only agent)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "override the turn budget for this run")
	return cmd
}

func printFinal(final *agent.Final, agentCtx *agent.Context) {
	switch out := final.Output.(type) {
	case agent.PendingOutput:
		fmt.Println(clifmt.Warn("paused: " + out.Message))
		for _, id := range out.ApprovalRequestIDs {
			fmt.Println("  approval_request_id:", clifmt.Key(id))
		}
		if len(out.ApprovalRequestIDs) > 0 {
			fmt.Println(clifmt.Dim("decide with `turnstile approvals approve|reject <id>`, then `turnstile resume <id>`"))
		}
	default:
		fmt.Println(clifmt.Success(fmt.Sprintf("%v", out)))
	}
	fmt.Println(clifmt.Dim(fmt.Sprintf("run_id=%s agent=%s turns=%d", final.RunID, final.Agent, final.Turns)))
	if agentCtx != nil && agentCtx.Metrics != nil {
		m := agentCtx.Metrics
		fmt.Println(clifmt.Dim(fmt.Sprintf("llm_calls=%d tokens=%d llm_time=%s", m.LLMCalls, m.TotalTokens, m.TotalLLMTime)))
	}
}
