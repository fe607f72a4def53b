package agents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/bus/bustest"
	"github.com/djinnbot/core/pkg/sse"
)

func testWatcherConfig(timeout time.Duration) *config.Config {
	return &config.Config{Agents: config.AgentsConfig{PulseSessionTimeout: timeout}}
}

func publishSessionEvent(t *testing.T, b *bustest.Fake, sessionID string, typ sse.SessionEventType) {
	t.Helper()
	raw, err := json.Marshal(sessionEventEnvelope{Type: typ})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), bus.SessionChannel(sessionID), raw))
}

func TestSessionWatcherTransitionsToWorkingOnOutput(t *testing.T) {
	b := bustest.New()
	lifecycle := NewLifecycleService(b, NewWorkLockService(b, newTestLogger()), newTestLogger())
	guardrails := NewGuardrailService(b, testGuardrailConfig(), newTestLogger())
	watcher := NewSessionWatcher(b, lifecycle, guardrails, testWatcherConfig(time.Minute), newTestLogger())

	watcher.Watch("agent-1", "sess-1")
	// Give the watcher goroutine a chance to subscribe before we publish.
	time.Sleep(10 * time.Millisecond)

	publishSessionEvent(t, b, "sess-1", sse.EventOutput)
	time.Sleep(10 * time.Millisecond)

	state, err := lifecycle.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StateWorking, state.State)
}

func TestSessionWatcherReturnsToIdleAndReleasesConcurrencyOnTurnEnd(t *testing.T) {
	b := bustest.New()
	lifecycle := NewLifecycleService(b, NewWorkLockService(b, newTestLogger()), newTestLogger())
	cfg := testGuardrailConfig()
	cfg.Agents.MaxConcurrentPulseSessions = 1
	guardrails := NewGuardrailService(b, cfg, newTestLogger())
	watcher := NewSessionWatcher(b, lifecycle, guardrails, testWatcherConfig(time.Minute), newTestLogger())

	require.NoError(t, guardrails.MarkConcurrentStart(context.Background(), "agent-1", "sess-1"))
	watcher.Watch("agent-1", "sess-1")
	time.Sleep(10 * time.Millisecond)

	publishSessionEvent(t, b, "sess-1", sse.EventOutput)
	time.Sleep(10 * time.Millisecond)
	publishSessionEvent(t, b, "sess-1", sse.EventTurnEnd)
	time.Sleep(10 * time.Millisecond)

	state, err := lifecycle.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state.State)

	// The concurrency slot released on turn_end must let a new wake through.
	allowed, _, err := guardrails.TryWake(context.Background(), &Agent{ID: "agent-1"}, "scheduler", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestSessionWatcherPublishesCancelOnTimeout(t *testing.T) {
	b := bustest.New()
	lifecycle := NewLifecycleService(b, NewWorkLockService(b, newTestLogger()), newTestLogger())
	cfg := testGuardrailConfig()
	cfg.Agents.MaxConcurrentPulseSessions = 1
	guardrails := NewGuardrailService(b, cfg, newTestLogger())
	watcher := NewSessionWatcher(b, lifecycle, guardrails, testWatcherConfig(20*time.Millisecond), newTestLogger())

	sub, err := b.Subscribe(context.Background(), bus.SessionControl("sess-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, guardrails.MarkConcurrentStart(context.Background(), "agent-1", "sess-1"))
	watcher.Watch("agent-1", "sess-1")

	select {
	case <-sub.Channel():
	case <-time.After(time.Second):
		t.Fatal("expected a cancel signal on session control channel after timeout")
	}

	time.Sleep(10 * time.Millisecond)
	state, err := lifecycle.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state.State)

	allowed, _, err := guardrails.TryWake(context.Background(), &Agent{ID: "agent-1"}, "scheduler", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}
