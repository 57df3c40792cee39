package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/turnstile/agent"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <approval-request-id|run-id>",
		Short: "Resume an interrupted run",
		Long: `Resume an interrupted run.

Given an approval request id, the recorded decision is applied to the
action it was raised for. Given a run id (run_...), the run re-enters
its suspended turn directly; this is how a cancelled run is picked back
up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var (
				final    *agent.Final
				agentCtx *agent.Context
			)
			if strings.HasPrefix(args[0], "run_") {
				final, agentCtx, err = rt.engine.ResumeRun(ctx, args[0], rt.roster)
			} else {
				final, agentCtx, err = rt.engine.Resume(ctx, args[0], rt.roster)
			}
			if err != nil {
				return err
			}
			printFinal(final, agentCtx)
			return nil
		},
	}
	return cmd
}
