package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/metrics"
)

// WorkLockService serialises concurrent sessions of an agent competing for the
// same work item using an atomic Lua CAS script (pkg/bus.AcquireWorkLockScript).
// Locks are keyed per (agent, work key): two sessions of the same agent cannot
// hold the same work key at once, while different agents lock independently.
type WorkLockService struct {
	b   bus.Bus
	log *slog.Logger
}

// NewWorkLockService builds a WorkLockService over the process event bus.
func NewWorkLockService(b bus.Bus, log *slog.Logger) *WorkLockService {
	return &WorkLockService{b: b, log: log.With(logger.Scope("agents.worklock"))}
}

// Acquire attempts to take an exclusive lock on workKey for agentID. Returns
// apperror.ErrWorkLockHeld if another session of agentID already holds it.
func (s *WorkLockService) Acquire(ctx context.Context, agentID, workKey, sessionID, description string, ttl time.Duration) (*WorkLock, error) {
	lock := &WorkLock{
		AgentID:     agentID,
		WorkKey:     workKey,
		SessionID:   sessionID,
		Description: description,
		AcquiredAt:  time.Now(),
		TTLSeconds:  int(ttl.Seconds()),
	}
	raw, err := json.Marshal(lock)
	if err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	result, err := s.b.Eval(ctx, bus.AcquireWorkLockScript,
		[]string{bus.WorkLock(agentID, workKey), bus.WorkLedger(agentID)},
		string(raw), int64(ttl.Seconds()), workKey,
	)
	if err != nil {
		s.log.Error("work lock acquire failed", logger.Error(err))
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	ok, _ := result.(int64)
	if ok != 1 {
		metrics.WorkLockAttempts.WithLabelValues("held").Inc()
		return nil, apperror.ErrWorkLockHeld.WithMessage("work item " + workKey + " is already locked")
	}
	metrics.WorkLockAttempts.WithLabelValues("acquired").Inc()
	return lock, nil
}

// Release drops an agent's lock on workKey and removes it from the agent's
// work ledger set.
func (s *WorkLockService) Release(ctx context.Context, agentID, workKey string) error {
	if err := s.b.Delete(ctx, bus.WorkLock(agentID, workKey)); err != nil {
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	if err := s.b.RemoveFromSet(ctx, bus.WorkLedger(agentID), workKey); err != nil {
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	return nil
}

// Get returns the current lock on workKey for agentID, or nil if unlocked.
func (s *WorkLockService) Get(ctx context.Context, agentID, workKey string) (*WorkLock, error) {
	raw, ok, err := s.b.Get(ctx, bus.WorkLock(agentID, workKey))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}
	if !ok {
		return nil, nil
	}
	var lock WorkLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return &lock, nil
}

// ListLedger returns every work key an agent currently holds a live lock
// for. As a side effect, it sweeps members whose underlying work_lock entry
// has expired (or was never set) out of the ledger set — a crashed
// container that never called Release would otherwise leave a phantom
// held-lock entry behind forever.
func (s *WorkLockService) ListLedger(ctx context.Context, agentID string) ([]string, error) {
	members, err := s.b.Members(ctx, bus.WorkLedger(agentID))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	live := make([]string, 0, len(members))
	for _, m := range members {
		_, ok, err := s.b.Get(ctx, bus.WorkLock(agentID, m))
		if err != nil {
			return nil, apperror.ErrBusUnavailable.WithInternal(err)
		}
		if ok {
			live = append(live, m)
			continue
		}
		if err := s.b.RemoveFromSet(ctx, bus.WorkLedger(agentID), m); err != nil {
			s.log.Warn("failed to sweep expired work lock from ledger",
				logger.Error(err), slog.String("agent_id", agentID), slog.String("work_key", m))
		}
	}
	return live, nil
}
