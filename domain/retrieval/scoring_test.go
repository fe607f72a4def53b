package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeNeutralPriorBelowMinAccesses(t *testing.T) {
	now := time.Now()
	s := &Score{
		AccessCount:  2,
		SuccessCount: 0,
		FailureCount: 2,
		LastAccessed: now,
	}
	successRate, adaptive := s.Recompute(DefaultScoringConfig, now)
	assert.Equal(t, 0.5, successRate, "two early failures shouldn't tank a memory below the signal threshold")
	assert.GreaterOrEqual(t, adaptive, DefaultScoringConfig.AdaptiveScoreFloor)
}

func TestRecomputeFloorNeverBreached(t *testing.T) {
	now := time.Now()
	s := &Score{
		AccessCount:  100,
		SuccessCount: 0,
		FailureCount: 100,
		LastAccessed: now.Add(-365 * 24 * time.Hour),
	}
	_, adaptive := s.Recompute(DefaultScoringConfig, now)
	assert.GreaterOrEqual(t, adaptive, DefaultScoringConfig.AdaptiveScoreFloor)
}

func TestRecomputeRehabilitationDriftsTowardNeutral(t *testing.T) {
	cfg := DefaultScoringConfig
	lastAccessed := time.Now().Add(-cfg.RehabilitationHalfLife)
	s := &Score{
		AccessCount:  10,
		SuccessCount: 0,
		FailureCount: 10,
		LastAccessed: lastAccessed,
	}
	fresh := &Score{
		AccessCount:  10,
		SuccessCount: 0,
		FailureCount: 10,
		LastAccessed: time.Now(),
	}

	now := time.Now()
	oldRate, _ := s.Recompute(cfg, now)
	freshRate, _ := fresh.Recompute(cfg, now)

	assert.Greater(t, oldRate, freshRate, "a failure-heavy memory unaccessed for a full rehabilitation half-life should have drifted closer to neutral than a freshly-failed one")
}

func TestRecomputeHighSuccessRateScoresHigherThanLowSuccess(t *testing.T) {
	now := time.Now()
	good := &Score{AccessCount: 20, SuccessCount: 18, FailureCount: 2, LastAccessed: now}
	bad := &Score{AccessCount: 20, SuccessCount: 2, FailureCount: 18, LastAccessed: now}

	_, goodScore := good.Recompute(DefaultScoringConfig, now)
	_, badScore := bad.Recompute(DefaultScoringConfig, now)

	assert.Greater(t, goodScore, badScore)
}

func TestRecomputeResultsAreRounded(t *testing.T) {
	now := time.Now()
	s := &Score{AccessCount: 7, SuccessCount: 5, FailureCount: 2, LastAccessed: now}
	successRate, adaptive := s.Recompute(DefaultScoringConfig, now)

	assert.Equal(t, successRate, round4(successRate))
	assert.Equal(t, adaptive, round4(adaptive))
}
