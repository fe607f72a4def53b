package agents

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus/bustest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWorkLockAcquireGrantsExclusiveHold(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkLockService(bustest.New(), newTestLogger())

	lock, err := svc.Acquire(ctx, "agent-1", "task-1", "sess-1", "do the thing", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", lock.AgentID)
	assert.Equal(t, "task-1", lock.WorkKey)
}

func TestWorkLockAcquireRejectsSecondHolder(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkLockService(bustest.New(), newTestLogger())

	_, err := svc.Acquire(ctx, "agent-1", "task-1", "sess-1", "first", time.Minute)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, "agent-1", "task-1", "sess-2", "second", time.Minute)
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, apperror.ErrWorkLockHeld.Code, appErr.Code)
}

func TestWorkLockReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkLockService(bustest.New(), newTestLogger())

	_, err := svc.Acquire(ctx, "agent-1", "task-1", "sess-1", "first", time.Minute)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, "agent-1", "task-1"))

	_, err = svc.Acquire(ctx, "agent-1", "task-1", "sess-2", "second", time.Minute)
	assert.NoError(t, err)
}

func TestListLedgerReturnsLiveLock(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkLockService(bustest.New(), newTestLogger())

	_, err := svc.Acquire(ctx, "agent-1", "task-1", "sess-1", "first", time.Minute)
	require.NoError(t, err)

	ledger, err := svc.ListLedger(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, ledger)
}

func TestListLedgerSweepsExpiredLock(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkLockService(bustest.New(), newTestLogger())

	// A TTL short enough to have already elapsed by the time ListLedger
	// reads it back simulates a crashed container that never released.
	_, err := svc.Acquire(ctx, "agent-1", "task-1", "sess-1", "first", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	ledger, err := svc.ListLedger(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, ledger)

	// The sweep must have removed it from the ledger set, not just hidden
	// it from this one read.
	ledger, err = svc.ListLedger(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, ledger)
}
