package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/bus/bustest"
)

func testGuardrailConfig() *config.Config {
	return &config.Config{
		Agents: config.AgentsConfig{
			WakeCooldown:               300 * time.Second,
			MaxWakesPerDay:             12,
			MaxSessionMinutesPerDay:    120,
			MaxWakesPerPairPerDay:      5,
			MaxConcurrentPulseSessions: 2,
		},
	}
}

func TestTryWakeGrantsFirstWake(t *testing.T) {
	ctx := context.Background()
	svc := NewGuardrailService(bustest.New(), testGuardrailConfig(), newTestLogger())
	agent := &Agent{ID: "agent-1"}

	allowed, reason, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestTryWakeRejectsWithinCooldown(t *testing.T) {
	ctx := context.Background()
	svc := NewGuardrailService(bustest.New(), testGuardrailConfig(), newTestLogger())
	agent := &Agent{ID: "agent-1"}

	allowed, _, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, reason, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RejectCooldown, reason)
}

func TestTryWakeRejectsOverDailyCap(t *testing.T) {
	ctx := context.Background()
	cfg := testGuardrailConfig()
	cfg.Agents.WakeCooldown = 0
	cfg.Agents.MaxWakesPerDay = 1
	svc := NewGuardrailService(bustest.New(), cfg, newTestLogger())
	agent := &Agent{ID: "agent-1"}

	allowed, _, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, reason, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RejectDailyCap, reason)
}

func TestTryWakeRejectsOverPairCap(t *testing.T) {
	ctx := context.Background()
	cfg := testGuardrailConfig()
	cfg.Agents.WakeCooldown = 0
	cfg.Agents.MaxWakesPerPairPerDay = 1
	svc := NewGuardrailService(bustest.New(), cfg, newTestLogger())
	agent := &Agent{ID: "agent-1"}

	allowed, _, err := svc.TryWake(ctx, agent, "peer-1", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, reason, err := svc.TryWake(ctx, agent, "peer-1", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RejectPairCap, reason)
}

func TestTryWakeRejectsOverConcurrencyCapUntilMarkedEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testGuardrailConfig()
	cfg.Agents.WakeCooldown = 0
	cfg.Agents.MaxConcurrentPulseSessions = 1
	svc := NewGuardrailService(bustest.New(), cfg, newTestLogger())
	agent := &Agent{ID: "agent-1"}

	require.NoError(t, svc.MarkConcurrentStart(ctx, agent.ID, "sess-1"))

	allowed, reason, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RejectConcurrency, reason)

	// Without MarkConcurrentEnd ever being called, every future wake would
	// be rejected forever — this is the deadlock the session-event consumer
	// closes by calling MarkConcurrentEnd on a session's terminal event.
	require.NoError(t, svc.MarkConcurrentEnd(ctx, agent.ID, "sess-1"))

	allowed, _, err = svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestTryWakeUsesPerAgentGuardrailOverride(t *testing.T) {
	ctx := context.Background()
	cfg := testGuardrailConfig()
	svc := NewGuardrailService(bustest.New(), cfg, newTestLogger())
	agent := &Agent{ID: "agent-1", Guardrails: &GuardrailConfig{
		WakeCooldownSeconds:     0,
		MaxWakesPerDay:          1,
		MaxSessionMinutesPerDay: 120,
		MaxWakesPerPairPerDay:   5,
		MaxConcurrentPulseRuns:  2,
	}}

	allowed, _, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, reason, err := svc.TryWake(ctx, agent, "scheduler", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RejectDailyCap, reason)
}
