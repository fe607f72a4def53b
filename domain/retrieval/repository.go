package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/logger"
)

// Repository persists Score rows.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository builds a Repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("retrieval.repo"))}
}

// Bump increments a (agent, memory) Score's access/success/failure counters
// and bumps last_accessed, inserting the row with an initial count of one if
// it doesn't exist yet — an atomic upsert so two concurrent batches touching
// the same memory never lose an increment.
func (r *Repository) Bump(ctx context.Context, agentID, memoryID string, success *bool, now time.Time) (*Score, error) {
	successCount, failureCount := 0, 0
	if success != nil {
		if *success {
			successCount = 1
		} else {
			failureCount = 1
		}
	}

	row := &Score{
		AgentID:      agentID,
		MemoryID:     memoryID,
		AccessCount:  1,
		SuccessCount: successCount,
		FailureCount: failureCount,
		LastAccessed: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (agent_id, memory_id) DO UPDATE").
		Set("access_count = retrieval_scores.access_count + 1").
		Set("success_count = retrieval_scores.success_count + ?", successCount).
		Set("failure_count = retrieval_scores.failure_count + ?", failureCount).
		Set("last_accessed = ?", now).
		Set("updated_at = ?", now).
		Returning("*").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to bump retrieval score", logger.Error(err),
			slog.String("agent_id", agentID), slog.String("memory_id", memoryID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return row, nil
}

// List returns every Score row for an agent, optionally filtered to a set
// of memory ids.
func (r *Repository) List(ctx context.Context, agentID string, memoryIDs []string, limit int) ([]Score, error) {
	var rows []Score
	q := r.db.NewSelect().Model(&rows).Where("agent_id = ?", agentID)
	if len(memoryIDs) > 0 {
		q = q.Where("memory_id IN (?)", bun.In(memoryIDs))
	}
	if limit <= 0 {
		limit = 200
	}
	if err := q.Limit(limit).Scan(ctx); err != nil {
		r.log.Error("failed to list retrieval scores", logger.Error(err), slog.String("agent_id", agentID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rows, nil
}
