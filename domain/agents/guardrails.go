package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/metrics"
)

// WakeRejectReason names why TryWake refused a wake, mirroring the reason
// strings returned by pkg/bus.TryWakeScript.
type WakeRejectReason string

const (
	RejectCooldown      WakeRejectReason = "cooldown"
	RejectDailyCap      WakeRejectReason = "daily_cap"
	RejectSessionBudget WakeRejectReason = "session_budget"
	RejectPairCap       WakeRejectReason = "pair_cap"
	RejectConcurrency   WakeRejectReason = "concurrency"
)

const dayTTLSeconds = 36 * 60 * 60 // a day plus slack, so a counter outlives the UTC day it was created in

// GuardrailService enforces the wake guardrails (cooldown, daily wake cap,
// session-minute budget, per-pair cap, concurrency cap) atomically via
// pkg/bus.TryWakeScript, so a check and its counter increment can't race
// against a concurrent pulse tick.
type GuardrailService struct {
	b   bus.Bus
	cfg config.AgentsConfig
	log *slog.Logger
}

// NewGuardrailService builds a GuardrailService with process-wide defaults
// from config.AgentsConfig; per-agent GuardrailConfig overrides those
// defaults when set.
func NewGuardrailService(b bus.Bus, cfg *config.Config, log *slog.Logger) *GuardrailService {
	return &GuardrailService{b: b, cfg: cfg.Agents, log: log.With(logger.Scope("agents.guardrails"))}
}

func (s *GuardrailService) resolve(agent *Agent) GuardrailConfig {
	g := GuardrailConfig{
		WakeCooldownSeconds:     int(s.cfg.WakeCooldown.Seconds()),
		MaxWakesPerDay:          s.cfg.MaxWakesPerDay,
		MaxSessionMinutesPerDay: s.cfg.MaxSessionMinutesPerDay,
		MaxWakesPerPairPerDay:   s.cfg.MaxWakesPerPairPerDay,
		MaxConcurrentPulseRuns:  s.cfg.MaxConcurrentPulseSessions,
	}
	if agent != nil && agent.Guardrails != nil {
		g = *agent.Guardrails
	}
	return g
}

// TryWake evaluates all five guardrails for agentID against peerID (the
// agent or user that would be responsible for the wake, for the pair cap)
// and reserveMinutes (the session-minute budget to reserve up front). It
// returns the rejection reason on failure; on success the relevant C2
// counters have already been incremented.
func (s *GuardrailService) TryWake(ctx context.Context, agent *Agent, peerID string, reserveMinutes int) (bool, WakeRejectReason, error) {
	g := s.resolve(agent)
	today := time.Now().UTC().Format("2006-01-02")

	keys := []string{
		bus.AgentState(agent.ID) + ":last_wake",
		bus.WakesCounter(agent.ID, today),
		bus.SessionMinutesCounter(agent.ID, today),
		bus.WakePairCounter(agent.ID, peerID, today),
		bus.ConcurrentPulseSessions(agent.ID),
	}

	result, err := s.b.Eval(ctx, bus.TryWakeScript, keys,
		time.Now().Unix(),
		g.WakeCooldownSeconds,
		g.MaxWakesPerDay,
		g.MaxSessionMinutesPerDay,
		g.MaxWakesPerPairPerDay,
		g.MaxConcurrentPulseRuns,
		reserveMinutes,
		dayTTLSeconds,
	)
	if err != nil {
		s.log.Error("guardrail eval failed", logger.Error(err))
		return false, "", apperror.ErrBusUnavailable.WithInternal(err)
	}

	pair, ok := result.([]any)
	if !ok || len(pair) != 2 {
		return false, "", apperror.ErrInternal.WithMessage("malformed guardrail script result")
	}
	allowed, _ := pair[0].(int64)
	if allowed != 1 {
		reason, _ := pair[1].(string)
		metrics.WakeDecisions.WithLabelValues(string(reason)).Inc()
		return false, WakeRejectReason(reason), nil
	}
	metrics.WakeDecisions.WithLabelValues("granted").Inc()
	return true, "", nil
}

// MarkConcurrentStart/MarkConcurrentEnd track the concurrency-cap set
// independently of TryWake, since a pulse session's lifetime spans well
// beyond the instant of the wake decision.
func (s *GuardrailService) MarkConcurrentStart(ctx context.Context, agentID, sessionID string) error {
	return s.b.AddToSet(ctx, bus.ConcurrentPulseSessions(agentID), sessionID)
}

func (s *GuardrailService) MarkConcurrentEnd(ctx context.Context, agentID, sessionID string) error {
	return s.b.RemoveFromSet(ctx, bus.ConcurrentPulseSessions(agentID), sessionID)
}
