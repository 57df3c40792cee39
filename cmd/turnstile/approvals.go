package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/turnstile/db"
	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/internal/clifmt"
)

func newApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and decide pending approval requests",
	}
	cmd.AddCommand(newApprovalsListCmd())
	cmd.AddCommand(newApprovalsShowCmd())
	cmd.AddCommand(newApprovalsDecideCmd("approve", guard.ApprovalApproved))
	cmd.AddCommand(newApprovalsDecideCmd("reject", guard.ApprovalRejected))
	return cmd
}

// openApprovalStore opens the sqlite-backed approval store directly:
// the standalone approvals commands always read the durable records,
// regardless of what store a running daemon was configured with.
func openApprovalStore(ctx context.Context) (guard.ApprovalStore, func(), error) {
	sqlDB, err := db.Open(ctx, dbConfigFromViper())
	if err != nil {
		return nil, nil, err
	}
	store, err := guard.NewSQLiteApprovalStoreWithDB(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqlDB.Close() }, nil
}

func newApprovalsListCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openApprovalStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := store.ListPending(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println(clifmt.Dim("no pending approvals"))
				return nil
			}
			now := time.Now()
			for _, rec := range recs {
				line := fmt.Sprintf("%s  run=%s  tool=%s  risk=%s", rec.ID, rec.RunID, rec.ToolName, rec.RiskLevel)
				if rec.Expired(now) {
					line += "  " + clifmt.Warn("(expired)")
				}
				fmt.Println(line)
				if rec.ActionSummaryRedacted != "" {
					fmt.Println("  " + clifmt.Dim(rec.ActionSummaryRedacted))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show approvals for one run")
	return cmd
}

func newApprovalsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <approval-request-id>",
		Short: "Show one approval request in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openApprovalStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			rec, found, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return guard.ErrNotFound
			}

			fmt.Println(clifmt.Headerf("approval %s", rec.ID))
			fmt.Println("  run:       ", rec.RunID)
			fmt.Println("  status:    ", string(rec.Status))
			fmt.Println("  tool:      ", rec.ToolName)
			fmt.Println("  call_id:   ", rec.CallID)
			fmt.Println("  action:    ", string(rec.ActionType))
			fmt.Println("  risk:      ", string(rec.RiskLevel))
			fmt.Println("  created:   ", rec.CreatedAt.Format(time.RFC3339))
			if !rec.ExpiresAt.IsZero() {
				fmt.Println("  expires:   ", rec.ExpiresAt.Format(time.RFC3339))
			}
			if rec.ResolvedAt != nil {
				fmt.Println("  resolved:  ", rec.ResolvedAt.Format(time.RFC3339))
				fmt.Println("  actor:     ", rec.Actor)
				if rec.Comment != "" {
					fmt.Println("  comment:   ", rec.Comment)
				}
			}
			for _, reason := range rec.Reasons {
				fmt.Println("  reason:    ", reason)
			}
			if rec.ActionSummaryRedacted != "" {
				fmt.Println("  summary:   ", rec.ActionSummaryRedacted)
			}
			fmt.Println("  resumable: ", len(rec.ResumeState) > 0)
			return nil
		},
	}
}

func newApprovalsDecideCmd(verb string, status guard.ApprovalStatus) *cobra.Command {
	var actor, comment string
	var resume bool

	cmd := &cobra.Command{
		Use:   verb + " <approval-request-id>",
		Short: verb + " a pending approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			store, closeStore, err := openApprovalStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Resolve(ctx, id, status, actor, comment); err != nil {
				closeStore()
				return err
			}
			closeStore()
			fmt.Println(clifmt.Success(fmt.Sprintf("approval %s %s", id, status)))

			if !resume {
				fmt.Println(clifmt.Dim(fmt.Sprintf("resume with `turnstile resume %s`", id)))
				return nil
			}
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			final, agentCtx, err := rt.engine.Resume(ctx, id, rt.roster)
			if err != nil {
				return err
			}
			printFinal(final, agentCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "who made the decision")
	cmd.Flags().StringVar(&comment, "comment", "", "optional decision comment")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the interrupted run immediately after deciding")
	return cmd
}
