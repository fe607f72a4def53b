package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/djinnbot/core/domain/scheduler"
	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

// PulseDriver ticks on config.AgentsConfig.PulseTickInterval, and for every
// enabled, pulse-enabled agent asks the guardrail service whether a wake is
// allowed, recording the outcome either way. A granted wake creates an
// AgentRun invocation-log row, marks the session as a concurrent start,
// transitions the agent to thinking, starts a session watcher and publishes
// the wake.
type PulseDriver struct {
	b          bus.Bus
	repo       *Repository
	lifecycle  *LifecycleService
	guardrails *GuardrailService
	watcher    *SessionWatcher
	cfg        *config.Config
	log        *slog.Logger
}

// NewPulseDriver builds a PulseDriver.
func NewPulseDriver(b bus.Bus, repo *Repository, lifecycle *LifecycleService, guardrails *GuardrailService, watcher *SessionWatcher, cfg *config.Config, log *slog.Logger) *PulseDriver {
	return &PulseDriver{b: b, repo: repo, lifecycle: lifecycle, guardrails: guardrails, watcher: watcher, cfg: cfg, log: log.With(logger.Scope("agents.pulse"))}
}

// Register schedules the recurring pulse tick on sched.
func (d *PulseDriver) Register(sched *scheduler.Scheduler) error {
	return sched.AddIntervalTask("agents.pulse", d.cfg.Agents.PulseTickInterval, d.tick)
}

func (d *PulseDriver) tick(ctx context.Context) error {
	agentsList, err := d.repo.FindEnabled(ctx)
	if err != nil {
		d.log.Error("pulse tick: failed to list enabled agents", logger.Error(err))
		return err
	}

	for _, agent := range agentsList {
		if !agent.PulseEnabled {
			continue
		}
		d.tryWakeOne(ctx, agent)
	}
	return nil
}

func (d *PulseDriver) tryWakeOne(ctx context.Context, agent *Agent) {
	now := time.Now()
	next := now.Add(d.cfg.Agents.PulseTickInterval)
	defer func() {
		if err := d.lifecycle.RecordPulse(ctx, agent.ID, now, next); err != nil {
			d.log.Warn("failed to record pulse", logger.Error(err), slog.String("agent_id", agent.ID))
		}
	}()

	sessionBudgetMinutes := 1
	allowed, reason, err := d.guardrails.TryWake(ctx, agent, "scheduler", sessionBudgetMinutes)
	if err != nil {
		d.log.Error("pulse wake check failed", logger.Error(err), slog.String("agent_id", agent.ID))
		return
	}
	if !allowed {
		d.log.Debug("pulse wake rejected",
			slog.String("agent_id", agent.ID),
			slog.String("reason", string(reason)))
		run, runErr := d.repo.CreateRun(ctx, agent.ID)
		if runErr == nil {
			_ = d.repo.SkipRun(ctx, run.ID, string(reason))
		}
		return
	}

	run, err := d.repo.CreateRun(ctx, agent.ID)
	if err != nil {
		d.log.Error("failed to create pulse run record", logger.Error(err), slog.String("agent_id", agent.ID))
		return
	}

	sessionID := uuid.NewString()
	if err := d.guardrails.MarkConcurrentStart(ctx, agent.ID, sessionID); err != nil {
		d.log.Warn("failed to mark concurrent pulse session", logger.Error(err))
	}
	if err := d.lifecycle.Transition(ctx, agent.ID, StateThinking, nil); err != nil {
		d.log.Warn("failed to transition lifecycle state", logger.Error(err))
	}
	d.watcher.Watch(agent.ID, sessionID)

	ctxLine := fmt.Sprintf("Scheduled pulse: check inbox, consolidate memory, and pick up work if anything is pending.")
	if _, err := bus.PublishGlobal(ctx, d.b, bus.EventPulseTriggered, agent.ID, "", map[string]string{
		"agentId":   agent.ID,
		"sessionId": sessionID,
		"context":   ctxLine,
	}); err != nil {
		d.log.Warn("failed to publish pulse triggered event", logger.Error(err), slog.String("agent_id", agent.ID))
	}

	d.log.Info("pulse wake granted",
		slog.String("agent_id", agent.ID),
		slog.String("run_id", run.ID),
		slog.String("session_id", sessionID))
}
