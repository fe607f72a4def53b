package sessions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Repository handles database operations for sessions.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a new sessions repository.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new session row.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.NewInsert().Model(s).Returning("*").Exec(ctx)
	return err
}

// GetByID returns a session by id, or nil if it doesn't exist.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	s := new(Session)
	err := r.db.NewSelect().Model(s).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListByAgent returns recent sessions for an agent, newest first.
func (r *Repository) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sess []*Session
	err := r.db.NewSelect().
		Model(&sess).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateStatus transitions a session's status, stamping started_at /
// completed_at as the transition warrants.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	q := r.db.NewUpdate().Model((*Session)(nil)).Where("id = ?", id).Set("status = ?", status)

	now := time.Now()
	switch status {
	case StatusRunning:
		q = q.Set("started_at = COALESCE(started_at, ?)", now)
	case StatusCompleted, StatusFailed, StatusCancelled:
		q = q.Set("completed_at = ?", now)
	}

	_, err := q.Exec(ctx)
	return err
}

// Touch bumps last_activity_at and increments message_count by delta — called
// once per structural event so the session row reflects recent activity
// without a query per SSE frame.
func (r *Repository) Touch(ctx context.Context, id string, delta int) error {
	_, err := r.db.NewUpdate().
		Model((*Session)(nil)).
		Where("id = ?", id).
		Set("last_activity_at = ?", time.Now()).
		Set("message_count = message_count + ?", delta).
		Exec(ctx)
	return err
}
