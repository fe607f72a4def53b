package retrieval

import (
	"math"
	"time"
)

// ScoringConfig holds the tunable blend parameters behind Recompute.
// Defaults mirror the original system's global_settings-backed constants;
// this rewrite keeps them as a plain struct rather than a hot-reloadable
// admin-edited cache, since no SPEC_FULL component exposes that surface.
type ScoringConfig struct {
	MinAccessesForSignal   int
	RecencyHalfLife        time.Duration
	RehabilitationHalfLife time.Duration
	AdaptiveScoreFloor     float64
	FrequencyLogCap        int
	BlendSuccessWeight     float64
	BlendRecencyWeight     float64
	BlendFrequencyWeight   float64
	RecencyFloor           float64

	// BlendBaseFactor/BlendBoostFactor combine a raw search score with a
	// memory's adaptive score at recall time: blended = raw * (base +
	// boost*adaptive). Not used by Recompute itself — carried here so
	// Service.Scores can report the current blend factors the runtime
	// should apply, matching the original system's response shape.
	BlendBaseFactor  float64
	BlendBoostFactor float64
}

// DefaultScoringConfig mirrors the original Python's DEFAULTS table.
var DefaultScoringConfig = ScoringConfig{
	MinAccessesForSignal:   3,
	RecencyHalfLife:        30 * 24 * time.Hour,
	RehabilitationHalfLife: 90 * 24 * time.Hour,
	AdaptiveScoreFloor:     0.35,
	FrequencyLogCap:        50,
	BlendSuccessWeight:     0.60,
	BlendRecencyWeight:     0.25,
	BlendFrequencyWeight:   0.15,
	RecencyFloor:           0.30,
	BlendBaseFactor:        0.70,
	BlendBoostFactor:       0.30,
}

// Recompute derives (successRate, adaptiveScore) from a Score's durable
// counters as of `now`, per the three design decisions the original scoring
// engine documents:
//
//  1. Rehabilitation — the raw success rate drifts back toward 0.5 (neutral)
//     the longer a memory has gone unaccessed, so stale failures don't
//     permanently punish a memory whose context may no longer apply.
//  2. Hard floor — adaptiveScore never drops below cfg.AdaptiveScoreFloor, so
//     a keyword-matched memory always has a chance to surface.
//  3. Neutral prior — a memory below MinAccessesForSignal accesses starts at
//     0.5 so a single early failure can't tank its score.
func (s *Score) Recompute(cfg ScoringConfig, now time.Time) (successRate, adaptiveScore float64) {
	var rawSuccessRate float64
	if s.AccessCount < cfg.MinAccessesForSignal {
		rawSuccessRate = 0.5
	} else {
		rawSuccessRate = float64(s.SuccessCount) / float64(s.AccessCount)
	}

	age := now.Sub(s.LastAccessed)
	if age < 0 {
		age = 0
	}

	rehabFactor := 1.0
	if cfg.RehabilitationHalfLife > 0 {
		rehabFactor = math.Exp2(-age.Seconds() / cfg.RehabilitationHalfLife.Seconds())
	}
	successRate = rawSuccessRate*rehabFactor + 0.5*(1.0-rehabFactor)

	recency := cfg.RecencyFloor
	if cfg.RecencyHalfLife > 0 {
		recency = math.Max(cfg.RecencyFloor, math.Exp2(-age.Seconds()/cfg.RecencyHalfLife.Seconds()))
	}

	freqCap := math.Log(math.Max(2, float64(cfg.FrequencyLogCap)))
	frequency := math.Min(1.0, math.Log(float64(s.AccessCount)+1)/freqCap)

	adaptiveScore = successRate*cfg.BlendSuccessWeight + recency*cfg.BlendRecencyWeight + frequency*cfg.BlendFrequencyWeight
	adaptiveScore = math.Max(cfg.AdaptiveScoreFloor, adaptiveScore)

	return round4(successRate), round4(adaptiveScore)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
