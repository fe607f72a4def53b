package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/sse"
)

// sessionEventEnvelope mirrors the wire shape domain/sessions.Service
// publishes on a session's live channel — the lifecycle controller reads
// only the type, never the payload.
type sessionEventEnvelope struct {
	Type sse.SessionEventType `json:"type"`
}

// SessionWatcher drives an agent's C2 lifecycle state machine off the
// structural events C5 publishes for one live session, per spec §4.4's
// state diagram: first output moves thinking to working, and a session's
// terminal event (turn_end, session_complete, response_aborted) moves the
// agent back to idle and releases that session's hold on the agent's
// concurrency-cap set. It is just another subscriber on `sessions:{id}`,
// the same primitive domain/sessions.Service.Subscribe uses for SSE clients.
type SessionWatcher struct {
	b          bus.Bus
	lifecycle  *LifecycleService
	guardrails *GuardrailService
	timeout    time.Duration
	log        *slog.Logger
}

// NewSessionWatcher builds a SessionWatcher.
func NewSessionWatcher(b bus.Bus, lifecycle *LifecycleService, guardrails *GuardrailService, cfg *config.Config, log *slog.Logger) *SessionWatcher {
	timeout := cfg.Agents.PulseSessionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SessionWatcher{
		b:          b,
		lifecycle:  lifecycle,
		guardrails: guardrails,
		timeout:    timeout,
		log:        log.With(logger.Scope("agents.sessionwatch")),
	}
}

// Watch starts watching sessionID on behalf of agentID in its own
// goroutine. Callers (the pulse driver, the manual trigger handler) fire
// and forget — the watch ends on the session's own terminal event, or on
// timeout, whichever comes first.
func (w *SessionWatcher) Watch(agentID, sessionID string) {
	go w.run(agentID, sessionID)
}

func (w *SessionWatcher) run(agentID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	sub, err := w.b.Subscribe(ctx, bus.SessionChannel(sessionID))
	if err != nil {
		w.log.Warn("session watch failed to subscribe", logger.Error(err),
			slog.String("agent_id", agentID), slog.String("session_id", sessionID))
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			w.log.Warn("session watch deadline exceeded with no terminal event",
				slog.String("agent_id", agentID), slog.String("session_id", sessionID))
			w.cancelAndRelease(agentID, sessionID)
			return
		case raw, ok := <-sub.Channel():
			if !ok {
				return
			}
			var evt sessionEventEnvelope
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			w.apply(ctx, agentID, evt.Type)
			if isTerminalSessionEvent(evt.Type) {
				w.release(agentID, sessionID)
				return
			}
		}
	}
}

// apply drives the idle/thinking/working transitions the spec's state
// diagram names. The idle->thinking leg happens at wake time (pulse.go,
// handler.go's TriggerAgent) before the watcher ever subscribes; from here
// on only the thinking->working leg (first output) and the return to idle
// (handled by release, on the session's terminal event) are driven by
// session events.
func (w *SessionWatcher) apply(ctx context.Context, agentID string, t sse.SessionEventType) {
	switch t {
	case sse.EventToolStart, sse.EventOutput, sse.EventStepStart:
		if err := w.lifecycle.Transition(ctx, agentID, StateWorking, nil); err != nil {
			w.log.Warn("failed to transition to working", logger.Error(err), slog.String("agent_id", agentID))
		}
	}
}

// release moves the agent back to idle and drops sessionID from the
// concurrency-cap set — the step the concurrency guardrail has always
// needed and never had: without it, TryWake's SCARD check would trip
// permanently once max_concurrent_pulse_sessions wakes had ever fired.
func (w *SessionWatcher) release(agentID, sessionID string) {
	ctx := context.Background()
	if err := w.lifecycle.Transition(ctx, agentID, StateIdle, nil); err != nil {
		w.log.Warn("failed to transition to idle", logger.Error(err), slog.String("agent_id", agentID))
	}
	if err := w.guardrails.MarkConcurrentEnd(ctx, agentID, sessionID); err != nil {
		w.log.Warn("failed to release concurrency slot", logger.Error(err),
			slog.String("agent_id", agentID), slog.String("session_id", sessionID))
	}
}

// cancelAndRelease is release's timeout counterpart: it additionally
// publishes the cancel signal spec §4.4 calls for ("if exceeded, the
// controller publishes a cancel signal on sessions:{id}:control") before
// releasing the agent's state and concurrency slot, on the assumption the
// session's runtime is stuck or gone.
func (w *SessionWatcher) cancelAndRelease(agentID, sessionID string) {
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"action": "cancel", "reason": "watch_timeout"})
	if err := w.b.Publish(ctx, bus.SessionControl(sessionID), payload); err != nil {
		w.log.Warn("failed to publish session cancel signal", logger.Error(err), slog.String("session_id", sessionID))
	}
	w.release(agentID, sessionID)
}

func isTerminalSessionEvent(t sse.SessionEventType) bool {
	switch t {
	case sse.EventTurnEnd, sse.EventSessionComplete, sse.EventResponseAborted:
		return true
	}
	return false
}
