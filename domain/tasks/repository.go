package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/logger"
)

// Repository handles database operations for tasks
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new tasks repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("tasks.repo")),
	}
}

// GetCountsByProject returns task counts by status for a specific project
func (r *Repository) GetCountsByProject(ctx context.Context, projectID string) (*TaskCounts, error) {
	counts := &TaskCounts{}

	// Count pending
	pending, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("project_id = ?", projectID).
		Where("status = ?", "pending").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count pending tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Pending = int64(pending)

	// Count accepted
	accepted, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("project_id = ?", projectID).
		Where("status = ?", "accepted").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count accepted tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Accepted = int64(accepted)

	// Count rejected
	rejected, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("project_id = ?", projectID).
		Where("status = ?", "rejected").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count rejected tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Rejected = int64(rejected)

	// Count cancelled
	cancelled, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("project_id = ?", projectID).
		Where("status = ?", "cancelled").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count cancelled tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Cancelled = int64(cancelled)

	return counts, nil
}

// List returns tasks for a project with optional filters
func (r *Repository) List(ctx context.Context, params TaskListParams) ([]Task, int, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	tasks := []Task{}
	q := r.db.NewSelect().
		Model(&tasks).
		Where("project_id = ?", params.ProjectID)

	// Apply status filter
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}

	// Apply type filter
	if params.Type != "" {
		q = q.Where("type = ?", params.Type)
	}

	// Get total count
	totalQ := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("project_id = ?", params.ProjectID)
	if params.Status != "" {
		totalQ = totalQ.Where("status = ?", params.Status)
	}
	if params.Type != "" {
		totalQ = totalQ.Where("type = ?", params.Type)
	}
	total, err := totalQ.Count(ctx)
	if err != nil {
		r.log.Error("failed to count tasks", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	// Apply pagination and ordering
	q = q.Order("created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset)

	if err := q.Scan(ctx); err != nil {
		r.log.Error("failed to list tasks", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return tasks, total, nil
}

// ListAll returns tasks across all user-accessible projects
func (r *Repository) ListAll(ctx context.Context, userID string, params TaskListParams) ([]Task, int, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	tasks := []Task{}
	q := r.db.NewSelect().
		Model(&tasks).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID)

	// Apply status filter
	if params.Status != "" {
		q = q.Where("t.status = ?", params.Status)
	}

	// Apply type filter
	if params.Type != "" {
		q = q.Where("t.type = ?", params.Type)
	}

	// Get total count
	totalQ := r.db.NewSelect().
		Model((*Task)(nil)).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID)
	if params.Status != "" {
		totalQ = totalQ.Where("t.status = ?", params.Status)
	}
	if params.Type != "" {
		totalQ = totalQ.Where("t.type = ?", params.Type)
	}
	total, err := totalQ.Count(ctx)
	if err != nil {
		r.log.Error("failed to count all tasks", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	// Apply pagination and ordering
	q = q.Order("t.created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset)

	if err := q.Scan(ctx); err != nil {
		r.log.Error("failed to list all tasks", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return tasks, total, nil
}

// GetByID retrieves a task by ID
func (r *Repository) GetByID(ctx context.Context, projectID, taskID string) (*Task, error) {
	var task Task
	err := r.db.NewSelect().
		Model(&task).
		Where("id = ?", taskID).
		Where("project_id = ?", projectID).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.ErrNotFound.WithMessage("Task not found")
		}
		r.log.Error("failed to get task", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &task, nil
}

// Resolve updates a task's status to accepted or rejected
func (r *Repository) Resolve(ctx context.Context, projectID, taskID, userID, resolution string, notes *string) error {
	now := time.Now()

	result, err := r.db.NewUpdate().
		Model((*Task)(nil)).
		Set("status = ?", resolution).
		Set("resolved_at = ?", now).
		Set("resolved_by = ?", userID).
		Set("resolution_notes = ?", notes).
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Where("project_id = ?", projectID).
		Where("status = ?", "pending"). // Can only resolve pending tasks
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to resolve task", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperror.ErrNotFound.WithMessage("Task not found or already resolved")
	}

	return nil
}

// Cancel updates a task's status to cancelled
func (r *Repository) Cancel(ctx context.Context, projectID, taskID, userID string) error {
	now := time.Now()

	result, err := r.db.NewUpdate().
		Model((*Task)(nil)).
		Set("status = ?", "cancelled").
		Set("resolved_at = ?", now).
		Set("resolved_by = ?", userID).
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Where("project_id = ?", projectID).
		Where("status = ?", "pending"). // Can only cancel pending tasks
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to cancel task", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperror.ErrNotFound.WithMessage("Task not found or already resolved")
	}

	return nil
}

// Create inserts a new task.
func (r *Repository) Create(ctx context.Context, t *Task) (*Task, error) {
	if _, err := r.db.NewInsert().Model(t).Exec(ctx); err != nil {
		r.log.Error("failed to create task", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return t, nil
}

// MoveToColumn updates a task's column/position and appends a transition
// note to its metadata's transition_notes list.
func (r *Repository) MoveToColumn(ctx context.Context, projectID, taskID, columnID string, position int, note string) error {
	task, err := r.GetByID(ctx, projectID, taskID)
	if err != nil {
		return err
	}

	var meta TaskMetadata
	_ = json.Unmarshal(task.Metadata, &meta)
	if note != "" {
		meta.TransitionNotes = append(meta.TransitionNotes, note)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err)
	}

	result, err := r.db.NewUpdate().
		Model((*Task)(nil)).
		Set("column_id = ?", columnID).
		Set("column_position = ?", position).
		Set("metadata = ?", raw).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", taskID).
		Where("project_id = ?", projectID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to move task", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperror.ErrNotFound.WithMessage("Task not found")
	}
	return nil
}

// AssignAgent sets or clears Task.AssignedAgent.
func (r *Repository) AssignAgent(ctx context.Context, projectID, taskID string, agentID *string) error {
	result, err := r.db.NewUpdate().
		Model((*Task)(nil)).
		Set("assigned_agent = ?", agentID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", taskID).
		Where("project_id = ?", projectID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to assign task", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperror.ErrNotFound.WithMessage("Task not found")
	}
	return nil
}

// FindByPRReference looks up a task linked to a merged PR, trying (in
// order) task metadata's pr_number, pr_url, then git_branch — the same
// fallback chain the webhook router walks before giving up.
func (r *Repository) FindByPRReference(ctx context.Context, projectID string, prNumber int, prURL, gitBranch string) (*Task, error) {
	var task Task
	q := r.db.NewSelect().Model(&task).Where("project_id = ?", projectID)

	if prNumber > 0 {
		if err := q.Clone().Where("(metadata->>'pr_number')::int = ?", prNumber).Scan(ctx); err == nil {
			return &task, nil
		}
	}
	if prURL != "" {
		if err := q.Clone().Where("metadata->>'pr_url' = ?", prURL).Scan(ctx); err == nil {
			return &task, nil
		}
	}
	if gitBranch != "" {
		if err := q.Clone().Where("metadata->>'git_branch' = ?", gitBranch).Scan(ctx); err == nil {
			return &task, nil
		}
	}
	return nil, nil
}

// FindByRunID returns the task a run was dispatched for, or nil if the run
// wasn't created on behalf of a task.
func (r *Repository) FindByRunID(ctx context.Context, runID string) (*Task, error) {
	var task Task
	err := r.db.NewSelect().Model(&task).Where("run_id = ?", runID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to find task by run id", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &task, nil
}

// GetStatusSemantics returns a project's configured status map, or nil if
// the project hasn't registered one (callers should skip validation then).
func (r *Repository) GetStatusSemantics(ctx context.Context, projectID string) (*StatusSemantics, error) {
	var sem StatusSemantics
	err := r.db.NewSelect().Model(&sem).Where("project_id = ?", projectID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to load status semantics", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &sem, nil
}

// UpsertStatusSemantics creates or replaces a project's status map.
func (r *Repository) UpsertStatusSemantics(ctx context.Context, sem *StatusSemantics) error {
	_, err := r.db.NewInsert().
		Model(sem).
		On("CONFLICT (project_id) DO UPDATE").
		Set("statuses = EXCLUDED.statuses").
		Set("done_column_id = EXCLUDED.done_column_id").
		Set("backlog_column_id = EXCLUDED.backlog_column_id").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert status semantics", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetAllCounts returns task counts by status across all user-accessible projects
func (r *Repository) GetAllCounts(ctx context.Context, userID string) (*TaskCounts, error) {
	counts := &TaskCounts{}

	// Count pending
	pending, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID).
		Where("t.status = ?", "pending").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count all pending tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Pending = int64(pending)

	// Count accepted
	accepted, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID).
		Where("t.status = ?", "accepted").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count all accepted tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Accepted = int64(accepted)

	// Count rejected
	rejected, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID).
		Where("t.status = ?", "rejected").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count all rejected tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Rejected = int64(rejected)

	// Count cancelled
	cancelled, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Join("INNER JOIN kb.project_memberships pm ON pm.project_id = t.project_id").
		Where("pm.user_id = ?", userID).
		Where("t.status = ?", "cancelled").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count all cancelled tasks", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	counts.Cancelled = int64(cancelled)

	return counts, nil
}
