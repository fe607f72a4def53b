package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/logger"
)

// Service implements the retrieval-score half of C1: the agent runtime
// posts a batch of memory retrievals after each step completes, and recalls
// adaptive scores back at recall time.
type Service struct {
	repo *Repository
	cfg  ScoringConfig
	log  *slog.Logger
}

// NewService builds a Service with the default scoring blend.
func NewService(repo *Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, cfg: DefaultScoringConfig, log: log.With(logger.Scope("retrieval"))}
}

// Record upserts a Score per unique memory id in the batch, incrementing
// access (and success/failure, per batch.StepSuccess) counters.
func (s *Service) Record(ctx context.Context, batch RecordBatch) (int, error) {
	if batch.AgentID == "" {
		return 0, apperror.ErrBadRequest.WithMessage("agent_id is required")
	}
	now := time.Now()
	seen := make(map[string]bool, len(batch.Retrievals))
	updated := 0
	for _, ev := range batch.Retrievals {
		if ev.MemoryID == "" || seen[ev.MemoryID] {
			continue
		}
		seen[ev.MemoryID] = true
		if _, err := s.repo.Bump(ctx, batch.AgentID, ev.MemoryID, batch.StepSuccess, now); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Scores returns the current ScoredMemory view for an agent's memories,
// recomputing success_rate/adaptive_score as of now so time-decay is
// always current — never served from a cached column.
func (s *Service) Scores(ctx context.Context, agentID string, memoryIDs []string, limit int) ([]ScoredMemory, error) {
	if agentID == "" {
		return nil, apperror.ErrBadRequest.WithMessage("agent_id is required")
	}
	rows, err := s.repo.List(ctx, agentID, memoryIDs, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]ScoredMemory, 0, len(rows))
	for i := range rows {
		row := rows[i]
		successRate, adaptive := row.Recompute(s.cfg, now)
		out = append(out, ScoredMemory{
			MemoryID:      row.MemoryID,
			AccessCount:   row.AccessCount,
			SuccessCount:  row.SuccessCount,
			FailureCount:  row.FailureCount,
			SuccessRate:   successRate,
			AdaptiveScore: adaptive,
			LastAccessed:  row.LastAccessed.UnixMilli(),
		})
	}
	return out, nil
}
