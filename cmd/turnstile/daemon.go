package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/agent"
	"github.com/quailyquaily/turnstile/guard"
)

func newDaemonCmd() *cobra.Command {
	var addr string
	var workers int
	var queueSize int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the HTTP task daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := newLogger()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if addr == "" {
				addr = viper.GetString("daemon.addr")
			}
			if addr == "" {
				addr = "127.0.0.1:8787"
			}
			if workers <= 0 {
				workers = viper.GetInt("daemon.workers")
			}
			if workers <= 0 {
				workers = 2
			}

			tasks := NewTaskStore(queueSize)
			defer tasks.Close()

			d := &daemon{log: log, rt: rt, tasks: tasks}
			for i := 0; i < workers; i++ {
				go d.workerLoop(ctx)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           d.routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("daemon_listening", "addr", addr, "workers", workers)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from daemon.addr, else 127.0.0.1:8787)")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of task workers")
	cmd.Flags().IntVar(&queueSize, "queue", 100, "maximum queued tasks")
	return cmd
}

type daemon struct {
	log   *slog.Logger
	rt    *runtime
	tasks *TaskStore
}

func (d *daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/tasks", d.handleSubmitTask)
	r.Get("/tasks/{id}", d.handleGetTask)

	r.Get("/approvals", d.handleListApprovals)
	r.Get("/approvals/{id}", d.handleGetApproval)
	r.Post("/approvals/{id}/approve", d.decideApprovalHandler(guard.ApprovalApproved))
	r.Post("/approvals/{id}/reject", d.decideApprovalHandler(guard.ApprovalRejected))

	return r
}

func (d *daemon) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		writeError(w, http.StatusBadRequest, "missing task")
		return
	}
	if _, err := pickAgent(d.rt.roster, req.Agent); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var timeout time.Duration
	if s := strings.TrimSpace(req.Timeout); s != "" {
		dur, err := time.ParseDuration(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		timeout = dur
	}

	// The task context must outlive the HTTP request.
	info, err := d.tasks.Enqueue(context.Background(), task, req.Agent, timeout)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{ID: info.ID, Status: info.Status})
}

func (d *daemon) handleGetTask(w http.ResponseWriter, r *http.Request) {
	info, ok := d.tasks.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (d *daemon) approvals() guard.ApprovalStore {
	if d.rt.guard == nil {
		return nil
	}
	return d.rt.guard.Approvals()
}

func (d *daemon) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	store := d.approvals()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "approvals are not enabled")
		return
	}
	recs, err := store.ListPending(r.Context(), strings.TrimSpace(r.URL.Query().Get("run")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, approvalViews(recs))
}

func (d *daemon) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	store := d.approvals()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "approvals are not enabled")
		return
	}
	rec, found, err := store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, approvalView(rec))
}

func (d *daemon) decideApprovalHandler(status guard.ApprovalStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := d.approvals()
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "approvals are not enabled")
			return
		}
		id := chi.URLParam(r, "id")

		var req DecideApprovalRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		actor := strings.TrimSpace(req.Actor)
		if actor == "" {
			actor = "api"
		}

		if err := store.Resolve(r.Context(), id, status, actor, req.Comment); err != nil {
			if errors.Is(err, guard.ErrNotFound) {
				writeError(w, http.StatusNotFound, "approval not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Either decision resumes the run: a rejection feeds the model a
		// rejection result instead of executing the action.
		taskID, err := d.tasks.EnqueueResumeByApprovalID(id)
		if err != nil {
			d.log.Warn("approval_resume_not_queued", "approval_request_id", id, "error", err.Error())
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"status":  string(status),
			"task_id": taskID,
		})
	}
}

type approvalRecordView struct {
	ID        string   `json:"id"`
	RunID     string   `json:"run_id"`
	Status    string   `json:"status"`
	ToolName  string   `json:"tool_name"`
	CallID    string   `json:"call_id"`
	Action    string   `json:"action"`
	Risk      string   `json:"risk"`
	Summary   string   `json:"summary,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	CreatedAt string   `json:"created_at"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

func approvalView(rec guard.ApprovalRecord) approvalRecordView {
	v := approvalRecordView{
		ID:        rec.ID,
		RunID:     rec.RunID,
		Status:    string(rec.Status),
		ToolName:  rec.ToolName,
		CallID:    rec.CallID,
		Action:    string(rec.ActionType),
		Risk:      string(rec.RiskLevel),
		Summary:   rec.ActionSummaryRedacted,
		Reasons:   rec.Reasons,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if !rec.ExpiresAt.IsZero() {
		v.ExpiresAt = rec.ExpiresAt.Format(time.RFC3339)
	}
	return v
}

func approvalViews(recs []guard.ApprovalRecord) []approvalRecordView {
	out := make([]approvalRecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, approvalView(rec))
	}
	return out
}

// workerLoop drains the queue until the store closes or ctx ends.
func (d *daemon) workerLoop(ctx context.Context) {
	for {
		qt, ok := d.tasks.Next()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.execute(qt)
	}
}

func (d *daemon) execute(qt *queuedTask) {
	id := qt.info.ID
	now := time.Now()

	resumeID := strings.TrimSpace(qt.resumeApprovalID)
	qt.resumeApprovalID = ""

	d.tasks.Update(id, func(info *TaskInfo) {
		info.Status = TaskRunning
		if resumeID != "" {
			info.ResumedAt = &now
		} else {
			info.StartedAt = &now
		}
	})

	var (
		final    *agent.Final
		agentCtx *agent.Context
		err      error
	)
	if resumeID != "" {
		final, agentCtx, err = d.rt.engine.Resume(qt.ctx, resumeID, d.rt.roster)
	} else {
		var ag *agent.Agent
		ag, err = pickAgent(d.rt.roster, qt.info.Agent)
		if err == nil {
			final, agentCtx, err = d.rt.engine.Run(qt.ctx, ag, qt.info.Task, agent.RunOptions{
				Meta: map[string]any{"trigger": "daemon", "task_id": id},
			})
		}
	}

	finished := time.Now()
	d.tasks.Update(id, func(info *TaskInfo) {
		if err != nil {
			if errors.Is(qt.ctx.Err(), context.Canceled) {
				info.Status = TaskCanceled
			} else {
				info.Status = TaskFailed
			}
			info.Error = err.Error()
			info.FinishedAt = &finished
			qt.cancel()
			return
		}

		info.RunID = final.RunID
		info.Agent = final.Agent
		info.Turns = final.Turns

		if pending, ok := final.Output.(agent.PendingOutput); ok {
			info.Status = TaskPending
			info.PendingAt = &finished
			info.ApprovalRequestID = pending.ApprovalRequestID
			info.ApprovalRequestIDs = pending.ApprovalRequestIDs
			return
		}

		info.Status = TaskDone
		info.Result = final.Output
		info.FinishedAt = &finished
		qt.cancel()
	})

	if err != nil {
		d.log.Error("task_failed", "task_id", id, "error", err.Error())
		return
	}
	if agentCtx != nil && agentCtx.Metrics != nil {
		d.log.Info("task_finished",
			"task_id", id,
			"run_id", final.RunID,
			"llm_calls", agentCtx.Metrics.LLMCalls,
			"total_tokens", agentCtx.Metrics.TotalTokens,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
