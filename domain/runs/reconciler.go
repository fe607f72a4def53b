package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/metrics"
)

const (
	reconcilerBlock     = 5 * time.Second
	reconcilerBatchSize = 100
	// reconcilerMaxRetries bounds how many times a single event is retried
	// in place before a persistently-transient failure is treated as
	// permanent and the event is dead-lettered, per spec §4.3's "retry in
	// place up to a small bounded count".
	reconcilerMaxRetries = 3
)

// handleWithRetry retries r.handle(ctx, e) through a short exponential
// backoff as long as the error is transient; a permanent error or one that
// survives reconcilerMaxRetries retries is returned as-is to the caller.
func (r *Reconciler) handleWithRetry(ctx context.Context, e bus.StreamEntry) error {
	observeLag(e)

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), reconcilerMaxRetries)
	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		lastErr = r.handle(ctx, e)
		if lastErr != nil && isTransient(lastErr) {
			return lastErr
		}
		return nil // permanent error or success: stop retrying
	}
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	switch {
	case err != nil:
		metrics.ReconcilerRetries.WithLabelValues("dead_lettered").Inc()
		r.log.Warn("reconcile event exhausted retries, dead-lettering",
			logger.Error(err), slog.String("event_id", string(e.ID)))
	case attempts > 1:
		metrics.ReconcilerRetries.WithLabelValues("retried").Inc()
	default:
		metrics.ReconcilerRetries.WithLabelValues("ok").Inc()
	}
	return lastErr
}

// observeLag records the gap between an event's publish timestamp and the
// moment the reconciler picked it up. Malformed/missing timestamps are
// skipped rather than estimated, so a parse failure can't masquerade as
// zero lag.
func observeLag(e bus.StreamEntry) {
	raw := e.Fields["emittedAt"]
	if raw == "" {
		return
	}
	emitted, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return
	}
	metrics.ReconcilerLag.Observe(time.Since(emitted).Seconds())
}

// runStore is the slice of *Repository the reconciler actually calls,
// narrowed so handle()'s state-transition logic can be unit-tested against
// an in-memory fake instead of a live Postgres instance.
type runStore interface {
	GetByID(ctx context.Context, id string) (*Run, error)
	UpsertStep(ctx context.Context, step *Step) error
	SetCurrentStep(ctx context.Context, runID, stepID string) error
	UpdateStatus(ctx context.Context, runID string, status Status, fromNotIn []Status, completedAt *time.Time) (bool, error)
	SetOutputs(ctx context.Context, runID string, outputs []byte) error
	GetCursor(ctx context.Context) (bus.StreamID, error)
	SetCursor(ctx context.Context, id bus.StreamID) error
}

// taskStore is the slice of *tasks.Repository the reconciler's task-bridging
// and planning post-processing call.
type taskStore interface {
	GetByID(ctx context.Context, projectID, taskID string) (*tasks.Task, error)
	FindByRunID(ctx context.Context, runID string) (*tasks.Task, error)
	GetStatusSemantics(ctx context.Context, projectID string) (*tasks.StatusSemantics, error)
	MoveToColumn(ctx context.Context, projectID, taskID, columnID string, position int, note string) error
	List(ctx context.Context, params tasks.TaskListParams) ([]tasks.Task, int, error)
	Create(ctx context.Context, t *tasks.Task) (*tasks.Task, error)
}

// Reconciler is the long-lived consumer of events:global that keeps run and
// step rows in sync with what the execution engine reports. Once a run leaves
// "pending" it writes the Run.Status/Step.Status that engine events report;
// Service's Cancel/Pause/Resume also write Run.Status.
type Reconciler struct {
	b         bus.Bus
	repo      runStore
	tasksRepo taskStore
	log       *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler builds a Reconciler.
func NewReconciler(b bus.Bus, repo *Repository, tasksRepo *tasks.Repository, log *slog.Logger) *Reconciler {
	return &Reconciler{b: b, repo: repo, tasksRepo: tasksRepo, log: log.With(logger.Scope("runs.reconciler"))}
}

// Start begins the reconcile loop in its own goroutine; it reads its cursor
// from C1 so it resumes exactly where a previous process left off.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return nil
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish the event it's
// currently on.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.stopCh)
	r.mu.Unlock()

	select {
	case <-r.doneCh:
	case <-ctx.Done():
	}
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	cursor, err := r.repo.GetCursor(ctx)
	if err != nil {
		r.log.Error("failed to load reconciler cursor, starting from zero", logger.Error(err))
		cursor = bus.Zero
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		entries, err := r.b.ReadBlocking(ctx, bus.GlobalEvents(), cursor, reconcilerBatchSize, reconcilerBlock)
		if err != nil {
			r.log.Warn("reconciler read failed, retrying", logger.Error(err))
			continue
		}

		for _, e := range entries {
			if err := r.handleWithRetry(ctx, e); err != nil {
				r.log.Error("reconcile error exhausted retries, dead-lettering event", logger.Error(err), slog.String("event_id", string(e.ID)))
			}
			// Whether handleWithRetry succeeded, hit a permanent error, or
			// exhausted its retry budget, the event is settled one way or
			// another — the cursor always advances past it.
			cursor = e.ID
			if err := r.repo.SetCursor(ctx, cursor); err != nil {
				r.log.Warn("failed to persist reconciler cursor", logger.Error(err))
			}
		}
	}
}

// isTransient distinguishes a retryable infrastructure failure from a
// permanent data error (e.g. a dangling reference to a row that was deleted).
// Unrecognised errors are treated as permanent so a single bad event can't
// wedge the cursor forever; only the infra failures the repository actually
// raises are worth blocking the batch and retrying for.
func isTransient(err error) bool {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Code == apperror.ErrDatabase.Code || appErr.Code == apperror.ErrBusUnavailable.Code
	}
	return false
}

// runEventPayload is the Data shape run-scoped GlobalEvents entries carry.
// RunID is here rather than a top-level Envelope field because only this
// handful of event types are run-scoped; everything else (pulse, inbox,
// task, webhook events) has no use for it.
type runEventPayload struct {
	RunID   string          `json:"runId"`
	StepID  string          `json:"stepId,omitempty"`
	AgentID string          `json:"agentId,omitempty"`
	Outputs json.RawMessage `json:"outputs,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func decodeRunPayload(e bus.StreamEntry) runEventPayload {
	var p runEventPayload
	_ = json.Unmarshal([]byte(e.Fields["data"]), &p)
	return p
}

func (r *Reconciler) handle(ctx context.Context, e bus.StreamEntry) error {
	evtType := bus.EventType(e.Fields["type"])

	switch evtType {
	case bus.EventStepStarted, bus.EventStepComplete, bus.EventStepFailed, bus.EventRunComplete, bus.EventRunFailed:
	default:
		return nil
	}

	p := decodeRunPayload(e)
	if p.RunID == "" {
		return nil // malformed event — nothing to bridge to
	}
	runID := p.RunID

	switch evtType {
	case bus.EventStepStarted:
		return r.handleStepStarted(ctx, runID, p, e)
	case bus.EventStepComplete:
		return r.handleStepComplete(ctx, runID, p, e)
	case bus.EventStepFailed:
		return r.handleStepFailed(ctx, runID, p, e)
	case bus.EventRunComplete:
		return r.handleRunFinal(ctx, runID, e, StatusCompleted)
	case bus.EventRunFailed:
		return r.handleRunFinal(ctx, runID, e, StatusFailed)
	default:
		return nil
	}
}

func (r *Reconciler) handleStepStarted(ctx context.Context, runID string, p runEventPayload, e bus.StreamEntry) error {
	if p.StepID == "" {
		return nil
	}
	now := time.Now()
	var agentID *string
	if p.AgentID != "" {
		agentID = &p.AgentID
	}
	if err := r.repo.UpsertStep(ctx, &Step{
		ID:            StepID(runID, p.StepID),
		RunID:         runID,
		StepLogicalID: p.StepID,
		AgentID:       agentID,
		Status:        StepRunning,
		StartedAt:     &now,
	}); err != nil {
		return err
	}
	if err := r.repo.SetCurrentStep(ctx, runID, p.StepID); err != nil {
		return err
	}

	run, err := r.repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run %s", sql.ErrNoRows, runID)
	}
	if run.Status == StatusPending {
		if _, err := r.repo.UpdateStatus(ctx, runID, StatusRunning, []Status{StatusCompleted, StatusFailed, StatusCancelled}, nil); err != nil {
			return err
		}
	}

	r.mirror(ctx, runID, e)
	return nil
}

func (r *Reconciler) handleStepComplete(ctx context.Context, runID string, p runEventPayload, e bus.StreamEntry) error {
	if p.StepID == "" {
		return nil
	}
	now := time.Now()
	outputs := p.Outputs
	if len(outputs) == 0 {
		outputs = json.RawMessage(`{}`)
	}
	if err := r.repo.UpsertStep(ctx, &Step{
		ID:            StepID(runID, p.StepID),
		RunID:         runID,
		StepLogicalID: p.StepID,
		Status:        StepCompleted,
		Outputs:       outputs,
		CompletedAt:   &now,
	}); err != nil {
		return err
	}
	r.mirror(ctx, runID, e)
	return nil
}

func (r *Reconciler) handleStepFailed(ctx context.Context, runID string, p runEventPayload, e bus.StreamEntry) error {
	if p.StepID == "" {
		return nil
	}
	now := time.Now()
	errMsg := p.Error
	if err := r.repo.UpsertStep(ctx, &Step{
		ID:            StepID(runID, p.StepID),
		RunID:         runID,
		StepLogicalID: p.StepID,
		Status:        StepFailed,
		Error:         &errMsg,
		CompletedAt:   &now,
	}); err != nil {
		return err
	}
	r.mirror(ctx, runID, e)
	return nil
}

func (r *Reconciler) handleRunFinal(ctx context.Context, runID string, e bus.StreamEntry, finalStatus Status) error {
	run, err := r.repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run %s", sql.ErrNoRows, runID)
	}

	now := time.Now()
	if ok, err := r.repo.UpdateStatus(ctx, runID, finalStatus, []Status{StatusCompleted, StatusFailed, StatusCancelled}, &now); err != nil {
		return err
	} else if !ok {
		r.mirror(ctx, runID, e)
		return nil // already finalised — idempotent redelivery
	}

	if payload := e.Fields["data"]; payload != "" {
		if err := r.repo.SetOutputs(ctx, runID, []byte(payload)); err != nil {
			r.log.Warn("failed to persist run outputs", logger.Error(err), slog.String("run_id", runID))
		}
	}

	if err := r.bridgeTask(ctx, run, finalStatus); err != nil {
		r.log.Warn("task-run bridging failed", logger.Error(err), slog.String("run_id", runID))
	}

	if finalStatus == StatusCompleted {
		if err := r.postProcessPlanning(ctx, run); err != nil {
			r.log.Warn("planning post-processing failed", logger.Error(err), slog.String("run_id", runID))
		}
	}

	r.mirror(ctx, runID, e)
	return nil
}

// bridgeTask closes out the task a run was dispatched for (if any), mapping
// the run's terminal status onto the project's done/failed status
// vocabulary, mirroring the PR-merge auto-completion in the webhook router.
func (r *Reconciler) bridgeTask(ctx context.Context, run *Run, finalStatus Status) error {
	hc := run.Decode()
	var task *tasks.Task
	var err error
	if hc.TaskID != nil {
		task, err = r.tasksRepo.GetByID(ctx, derefProject(run.ProjectID), *hc.TaskID)
	} else {
		task, err = r.tasksRepo.FindByRunID(ctx, run.ID)
	}
	if err != nil || task == nil {
		return err
	}

	projectID := derefProject(run.ProjectID)
	sem, err := r.tasksRepo.GetStatusSemantics(ctx, projectID)
	if err != nil {
		return err
	}

	targetClass := tasks.ClassTerminalDone
	if finalStatus == StatusFailed {
		targetClass = tasks.ClassTerminalFail
	}
	if sem != nil && sem.Classify(task.Status) == targetClass {
		return nil // already in the target class — idempotent re-delivery
	}

	targetStatus := "done"
	targetColumn := task.ColumnID
	if finalStatus == StatusFailed {
		targetStatus = "failed"
	}
	if sem != nil {
		for status, class := range sem.Statuses {
			if class == targetClass {
				targetStatus = status
				break
			}
		}
		if finalStatus == StatusCompleted && sem.DoneColumnID != nil {
			targetColumn = *sem.DoneColumnID
		}
	}

	note := fmt.Sprintf("run %s finished: %s", run.ID, finalStatus)
	if err := r.tasksRepo.MoveToColumn(ctx, projectID, task.ID, targetColumn, 0, note); err != nil {
		return err
	}

	if _, err := bus.PublishGlobal(ctx, r.b, bus.EventTaskStatusChanged, "", projectID, map[string]string{
		"taskId": task.ID,
		"status": targetStatus,
	}); err != nil {
		return fmt.Errorf("publish task status change: %w", err)
	}
	return nil
}

// postProcessPlanning bulk-imports tasks a planning run produced from its
// structured outputs, or — for the agentic-planning variant, which creates
// tasks itself via tool calls — only reflows tasks marked blocked before
// dependency wiring into the backlog column.
func (r *Reconciler) postProcessPlanning(ctx context.Context, run *Run) error {
	hc := run.Decode()
	if !hc.PlanningRun {
		return nil
	}
	projectID := derefProject(run.ProjectID)

	if run.IsAgenticPlanning() {
		if err := r.reflowBlockedToBacklog(ctx, projectID); err != nil {
			return err
		}
	} else {
		var out PlanningOutputs
		if err := json.Unmarshal(run.Outputs, &out); err != nil {
			return fmt.Errorf("decode planning outputs: %w", err)
		}
		if err := r.importPlannedTasks(ctx, projectID, out.Tasks, nil); err != nil {
			return err
		}
	}

	_, err := bus.PublishGlobal(ctx, r.b, bus.EventProjectPlanningDone, "", projectID, map[string]string{"runId": run.ID})
	return err
}

func (r *Reconciler) reflowBlockedToBacklog(ctx context.Context, projectID string) error {
	sem, err := r.tasksRepo.GetStatusSemantics(ctx, projectID)
	if err != nil || sem == nil || sem.BacklogColumnID == nil {
		return err
	}
	list, _, err := r.tasksRepo.List(ctx, tasks.TaskListParams{ProjectID: projectID, Limit: 200})
	if err != nil {
		return err
	}
	for _, t := range list {
		if sem.Classify(t.Status) != tasks.ClassBlocked {
			continue
		}
		if err := r.tasksRepo.MoveToColumn(ctx, projectID, t.ID, *sem.BacklogColumnID, 0, "planning dependencies wired, reflowed from blocked"); err != nil {
			r.log.Warn("failed to reflow blocked task", logger.Error(err), slog.String("task_id", t.ID))
		}
	}
	return nil
}

func (r *Reconciler) importPlannedTasks(ctx context.Context, projectID string, planned []PlannedTask, parentID *string) error {
	for _, p := range planned {
		t := &tasks.Task{
			ProjectID:    projectID,
			Title:        p.Title,
			Type:         defaultString(p.Type, "task"),
			Priority:     tasks.Priority(defaultString(p.Priority, string(tasks.PriorityNormal))),
			ColumnID:     "backlog",
			ParentTaskID: parentID,
			Metadata:     json.RawMessage(`{"source":"planning"}`),
		}
		if p.Description != "" {
			desc := p.Description
			t.Description = &desc
		}
		created, err := r.tasksRepo.Create(ctx, t)
		if err != nil {
			return err
		}
		if len(p.Subtasks) > 0 {
			if err := r.importPlannedTasks(ctx, projectID, p.Subtasks, &created.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func derefProject(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// mirror republishes a relevant GlobalEvents entry onto the run's own
// stream/channel so SSE subscribers don't have to scan the cross-cutting
// global stream themselves.
func (r *Reconciler) mirror(ctx context.Context, runID string, e bus.StreamEntry) {
	if _, err := r.b.AppendStream(ctx, bus.RunStream(runID), e.Fields, 10_000); err != nil {
		r.log.Warn("failed to mirror run event to stream", logger.Error(err), slog.String("run_id", runID))
		return
	}
	env := bus.Envelope{
		Type:      bus.EventType(e.Fields["type"]),
		EmittedAt: time.Now(),
		Data:      json.RawMessage(e.Fields["data"]),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.b.Publish(ctx, bus.RunChannel(runID), payload); err != nil {
		r.log.Warn("failed to mirror run event to channel", logger.Error(err), slog.String("run_id", runID))
	}
}
