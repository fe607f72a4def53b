package runs

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

// Repository handles database operations for runs, steps, and the
// reconciler's persisted cursor.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository builds a Repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("runs.repo"))}
}

// Create inserts a new run.
func (r *Repository) Create(ctx context.Context, run *Run) error {
	if _, err := r.db.NewInsert().Model(run).Exec(ctx); err != nil {
		r.log.Error("failed to create run", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetByID returns a run, or nil if it doesn't exist.
func (r *Repository) GetByID(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.db.NewSelect().Model(&run).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get run", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &run, nil
}

// FindByTaskID returns the run whose human_context.task_id matches taskID, if
// any — used by the webhook router to surface a task's in-flight run.
func (r *Repository) FindByTaskID(ctx context.Context, taskID string) (*Run, error) {
	var run Run
	err := r.db.NewSelect().Model(&run).
		Where("human_context->>'task_id' = ?", taskID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to find run by task id", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &run, nil
}

// ListSteps returns every step belonging to a run, oldest first.
func (r *Repository) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	var steps []Step
	err := r.db.NewSelect().Model(&steps).
		Where("run_id = ?", runID).
		Order("started_at ASC NULLS FIRST").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list steps", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return steps, nil
}

// UpdateStatus transitions a run's status, compare-and-set guarded so a
// redelivered event is a no-op instead of clobbering a later state.
// fromNotIn lists statuses the row must NOT currently be in for the update to
// apply — callers pass the terminal/target-adjacent states per spec's
// idempotency requirement.
func (r *Repository) UpdateStatus(ctx context.Context, runID string, status Status, fromNotIn []Status, completedAt *time.Time) (bool, error) {
	q := r.db.NewUpdate().Model((*Run)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", runID)
	if completedAt != nil {
		q = q.Set("completed_at = ?", *completedAt)
	}
	if len(fromNotIn) > 0 {
		q = q.Where("status NOT IN (?)", bun.In(fromNotIn))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		r.log.Error("failed to update run status", logger.Error(err))
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// SetCurrentStep points a run's current_step_id at stepID.
func (r *Repository) SetCurrentStep(ctx context.Context, runID, stepID string) error {
	_, err := r.db.NewUpdate().Model((*Run)(nil)).
		Set("current_step_id = ?", stepID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", runID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to set current step", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetOutputs overwrites a run's aggregate outputs blob.
func (r *Repository) SetOutputs(ctx context.Context, runID string, outputs []byte) error {
	_, err := r.db.NewUpdate().Model((*Run)(nil)).
		Set("outputs = ?", outputs).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", runID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to set run outputs", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Delete removes a run; steps cascade via the FK.
func (r *Repository) Delete(ctx context.Context, runID string) error {
	res, err := r.db.NewDelete().Model((*Run)(nil)).Where("id = ?", runID).Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete run", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return apperror.ErrNotFound.WithMessage("run not found")
	}
	return nil
}

// GetStep returns a run's named step, or nil if it hasn't been created yet.
func (r *Repository) GetStep(ctx context.Context, runID, stepLogicalID string) (*Step, error) {
	var step Step
	err := r.db.NewSelect().Model(&step).
		Where("run_id = ?", runID).
		Where("step_logical_id = ?", stepLogicalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get step", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &step, nil
}

// UpsertStep creates a step on first sight (e.g. STEP_STARTED) or updates it
// in place on every subsequent event, keyed on its composite id so redelivery
// is naturally idempotent.
func (r *Repository) UpsertStep(ctx context.Context, step *Step) error {
	_, err := r.db.NewInsert().Model(step).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("agent_id = COALESCE(EXCLUDED.agent_id, step.agent_id)").
		Set("inputs = CASE WHEN EXCLUDED.inputs = '{}' THEN step.inputs ELSE EXCLUDED.inputs END").
		Set("outputs = CASE WHEN EXCLUDED.outputs = '{}' THEN step.outputs ELSE EXCLUDED.outputs END").
		Set("error = COALESCE(EXCLUDED.error, step.error)").
		Set("session_id = COALESCE(EXCLUDED.session_id, step.session_id)").
		Set("started_at = COALESCE(step.started_at, EXCLUDED.started_at)").
		Set("completed_at = COALESCE(EXCLUDED.completed_at, step.completed_at)").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert step", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetCursor returns the reconciler's last-processed GlobalEvents id,
// creating the row at bus.Zero on first run.
func (r *Repository) GetCursor(ctx context.Context) (bus.StreamID, error) {
	var cur ReconcilerCursor
	err := r.db.NewSelect().Model(&cur).Where("name = ?", cursorName).Scan(ctx)
	if err == nil {
		return bus.StreamID(cur.LastID), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.log.Error("failed to read reconciler cursor", logger.Error(err))
		return "", apperror.ErrDatabase.WithInternal(err)
	}

	cur = ReconcilerCursor{Name: cursorName, LastID: string(bus.Zero)}
	if _, err := r.db.NewInsert().Model(&cur).On("CONFLICT (name) DO NOTHING").Exec(ctx); err != nil {
		r.log.Error("failed to seed reconciler cursor", logger.Error(err))
		return "", apperror.ErrDatabase.WithInternal(err)
	}
	return bus.Zero, nil
}

// SetCursor persists the reconciler's progress.
func (r *Repository) SetCursor(ctx context.Context, id bus.StreamID) error {
	_, err := r.db.NewUpdate().Model((*ReconcilerCursor)(nil)).
		Set("last_id = ?", string(id)).
		Set("updated_at = ?", time.Now()).
		Where("name = ?", cursorName).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to persist reconciler cursor", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}
