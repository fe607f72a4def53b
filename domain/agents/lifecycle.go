package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

// LifecycleService owns an agent's C2-backed activity state: the
// idle/thinking/working machine, and the read-assembly of wakes-today and
// the work ledger from their own keys.
type LifecycleService struct {
	b        bus.Bus
	worklock *WorkLockService
	log      *slog.Logger
}

// NewLifecycleService builds a LifecycleService.
func NewLifecycleService(b bus.Bus, worklock *WorkLockService, log *slog.Logger) *LifecycleService {
	return &LifecycleService{b: b, worklock: worklock, log: log.With(logger.Scope("agents.lifecycle"))}
}

// Get returns the current lifecycle state for an agent, defaulting to idle
// if no state has ever been recorded.
func (s *LifecycleService) Get(ctx context.Context, agentID string) (*LifecycleState, error) {
	state, err := s.load(ctx, agentID)
	if err != nil {
		return nil, err
	}

	today := time.Now().UTC().Format("2006-01-02")
	raw, ok, err := s.b.Get(ctx, bus.WakesCounter(agentID, today))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}
	if ok {
		var n int
		_ = json.Unmarshal(raw, &n)
		state.WakesToday = n
	}

	ledger, err := s.worklock.ListLedger(ctx, agentID)
	if err != nil {
		return nil, err
	}
	state.WorkLedger = ledger

	return state, nil
}

func (s *LifecycleService) load(ctx context.Context, agentID string) (*LifecycleState, error) {
	raw, ok, err := s.b.Get(ctx, bus.AgentState(agentID))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}
	if !ok {
		return &LifecycleState{State: StateIdle, LastActive: time.Now()}, nil
	}
	var state LifecycleState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return &state, nil
}

func (s *LifecycleService) save(ctx context.Context, agentID string, state *LifecycleState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err)
	}
	if err := s.b.Set(ctx, bus.AgentState(agentID), raw, 0); err != nil {
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	return nil
}

// Transition moves an agent to a new state, optionally attaching the
// step/run it is now working. Transitioning to idle clears CurrentWork.
func (s *LifecycleService) Transition(ctx context.Context, agentID string, next LifecycleStateName, work *CurrentWork) error {
	state, err := s.load(ctx, agentID)
	if err != nil {
		return err
	}
	state.State = next
	state.LastActive = time.Now()
	if next == StateIdle {
		state.CurrentWork = nil
	} else if work != nil {
		state.CurrentWork = work
	}
	return s.save(ctx, agentID, state)
}

// RecordPulse stamps LastPulse/NextPulse after a scheduler tick, whether or
// not the tick actually woke the agent.
func (s *LifecycleService) RecordPulse(ctx context.Context, agentID string, at, next time.Time) error {
	state, err := s.load(ctx, agentID)
	if err != nil {
		return err
	}
	state.LastPulse = &at
	state.NextPulse = &next
	return s.save(ctx, agentID, state)
}

// SetPulseEnabled flips whether the pulse scheduler will attempt wakes for
// this agent at all, independent of its per-wake guardrails.
func (s *LifecycleService) SetPulseEnabled(ctx context.Context, agentID string, enabled bool) error {
	state, err := s.load(ctx, agentID)
	if err != nil {
		return err
	}
	state.PulseEnabled = enabled
	return s.save(ctx, agentID, state)
}
