package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/djinnbot/core/internal/layout"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/sse"
)

// CreateRunRequest is the validated input to CreateRun.
type CreateRunRequest struct {
	PipelineID      string
	ProjectID       *string
	TaskDescription string
	HumanContext    json.RawMessage
	ModelOverride   *string
	WorkspaceType   string
}

// Service implements the run dispatcher (C3): run creation, state
// transitions, and SSE replay/live fan-out per run.
type Service struct {
	b         bus.Bus
	repo      *Repository
	layout    *layout.Layout
	queueSize int
	log       *slog.Logger
}

// NewService builds a Service. queueSize comes from BusConfig.SessionQueueSize.
func NewService(b bus.Bus, repo *Repository, lo *layout.Layout, queueSize int, log *slog.Logger) *Service {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Service{b: b, repo: repo, layout: lo, queueSize: queueSize, log: log.With(logger.Scope("runs"))}
}

// validatePipeline reports whether pipelineID names a pipeline definition
// that exists on disk and parses as a well-formed pipeline file.
func (s *Service) validatePipeline(pipelineID string) bool {
	path, ok := s.layout.PipelineFile(pipelineID)
	if !ok {
		return false
	}
	def, err := loadPipeline(path)
	if err != nil {
		s.log.Warn("pipeline file failed to parse", logger.Error(err), slog.String("pipeline_id", pipelineID))
		return false
	}
	return len(def.Steps) > 0
}

// CreateRun validates the request, inserts a pending Run, and publishes
// RUN_CREATED to the global stream plus a dispatch record to events:new_runs.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	if req.PipelineID == "" || req.TaskDescription == "" {
		return nil, apperror.ErrBadRequest.WithMessage("pipeline_id and task are required")
	}
	if !s.validatePipeline(req.PipelineID) {
		return nil, apperror.ErrPipelineNotFound.WithMessage(fmt.Sprintf("pipeline %q not found", req.PipelineID))
	}

	humanContext := req.HumanContext
	if len(humanContext) == 0 {
		humanContext = json.RawMessage(`{}`)
	}

	run := &Run{
		ID:              "run_" + uuid.NewString(),
		PipelineID:      req.PipelineID,
		ProjectID:       req.ProjectID,
		TaskDescription: req.TaskDescription,
		Status:          StatusPending,
		Outputs:         json.RawMessage(`{}`),
		HumanContext:    humanContext,
		ModelOverride:   req.ModelOverride,
		WorkspaceType:   req.WorkspaceType,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, err
	}

	projectID := ""
	if run.ProjectID != nil {
		projectID = *run.ProjectID
	}
	if _, err := bus.PublishGlobal(ctx, s.b, bus.EventRunCreated, "", projectID, map[string]string{
		"runId":           run.ID,
		"pipelineId":      run.PipelineID,
		"taskDescription": run.TaskDescription,
	}); err != nil {
		s.log.Warn("failed to publish run created event", logger.Error(err), slog.String("run_id", run.ID))
	}

	if _, err := s.b.AppendStream(ctx, bus.NewRuns(), map[string]string{
		"event":      "run:new",
		"run_id":     run.ID,
		"pipelineId": run.PipelineID,
	}, 0); err != nil {
		s.log.Warn("failed to append dispatch record", logger.Error(err), slog.String("run_id", run.ID))
	}

	return run, nil
}

// GetRun returns a run and its steps, or apperror.ErrNotFound.
func (s *Service) GetRun(ctx context.Context, runID string) (*Run, []Step, error) {
	run, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, apperror.ErrNotFound.WithMessage("run not found")
	}
	steps, err := s.repo.ListSteps(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

// Cancel transitions a live run to cancelled and signals the owning engine
// over the run's control channel so it can translate this into a
// STEP_FAILED(reason=cancelled) for whichever step is in flight.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	return s.transition(ctx, runID, StatusCancelled, func() error {
		payload, _ := json.Marshal(map[string]string{"action": "cancel"})
		return s.b.Publish(ctx, bus.RunChannel(runID)+":control", payload)
	})
}

// Pause transitions a running run to paused.
func (s *Service) Pause(ctx context.Context, runID string) error {
	return s.transition(ctx, runID, StatusPaused, nil)
}

// Resume transitions a paused run back to running.
func (s *Service) Resume(ctx context.Context, runID string) error {
	return s.transition(ctx, runID, StatusRunning, nil)
}

// Delete removes a run and its steps (cascade).
func (s *Service) Delete(ctx context.Context, runID string) error {
	return s.repo.Delete(ctx, runID)
}

// Restart copies a run's inputs into a brand-new run, leaving the original
// untouched, per spec's "restart copies inputs to a new run-id".
func (s *Service) Restart(ctx context.Context, runID string) (*Run, error) {
	orig, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, apperror.ErrNotFound.WithMessage("run not found")
	}
	return s.CreateRun(ctx, CreateRunRequest{
		PipelineID:      orig.PipelineID,
		ProjectID:       orig.ProjectID,
		TaskDescription: orig.TaskDescription,
		HumanContext:    orig.HumanContext,
		ModelOverride:   orig.ModelOverride,
		WorkspaceType:   orig.WorkspaceType,
	})
}

// transition validates the state-machine move, applies it, and — if allowed
// — runs an optional side effect (e.g. the cancel control signal) after the
// DB write succeeds.
func (s *Service) transition(ctx context.Context, runID string, target Status, sideEffect func() error) error {
	run, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return apperror.ErrNotFound.WithMessage("run not found")
	}
	if err := run.Status.ValidateTransition(target); err != nil {
		return apperror.ErrPreconditionFailed.WithMessage(err.Error())
	}

	var completedAt *time.Time
	if target == StatusCancelled || target == StatusCompleted || target == StatusFailed {
		now := time.Now()
		completedAt = &now
	}
	ok, err := s.repo.UpdateStatus(ctx, runID, target, []Status{StatusCompleted, StatusFailed, StatusCancelled}, completedAt)
	if err != nil {
		return err
	}
	if !ok {
		return nil // already moved on — idempotent no-op
	}

	projectID := ""
	if run.ProjectID != nil {
		projectID = *run.ProjectID
	}
	if _, err := bus.PublishGlobal(ctx, s.b, bus.EventRunStatusChanged, "", projectID, map[string]string{
		"runId":  runID,
		"status": string(target),
	}); err != nil {
		s.log.Warn("failed to publish run status change", logger.Error(err), slog.String("run_id", runID))
	}

	if sideEffect != nil {
		if err := sideEffect(); err != nil {
			s.log.Warn("run transition side effect failed", logger.Error(err), slog.String("run_id", runID))
		}
	}
	return nil
}

// Frame is one SSE frame a run subscriber should write.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Subscribe replays a run's mirrored event stream since `since` then forwards
// live traffic on its channel until ctx is cancelled, mirroring the session
// router's replay-then-live shape.
func (s *Service) Subscribe(ctx context.Context, runID string, since bus.StreamID) (<-chan Frame, error) {
	out := make(chan Frame, s.queueSize)

	entries, err := s.b.Range(ctx, bus.RunStream(runID), since, bus.PositiveInfinity)
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}
	sub, err := s.b.Subscribe(ctx, bus.RunChannel(runID))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	go func() {
		defer close(out)
		defer sub.Close()

		for _, e := range entries {
			if !sendRunFrame(out, Frame{Event: e.Fields["type"], Data: json.RawMessage(e.Fields["data"])}) {
				return
			}
		}
		if !sendRunFrame(out, Frame{Event: string(sse.EventConnected), Data: nil}) {
			return
		}

		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !sendRunFrame(out, Frame{Event: string(sse.EventHeartbeat), Data: nil}) {
					return
				}
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var env bus.Envelope
				if err := json.Unmarshal(raw, &env); err != nil {
					continue
				}
				if !sendRunFrame(out, Frame{Event: string(env.Type), Data: env.Data}) {
					return
				}
			}
		}
	}()

	return out, nil
}

func sendRunFrame(out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	default:
		return false
	}
}
