package inbox

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/pkg/bus/bustest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSendAndList(t *testing.T) {
	svc := NewService(bustest.New(), newTestLogger())
	ctx := context.Background()

	_, err := svc.Send(ctx, "agent-1", SendRequest{From: "agent-2", Body: "first message"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, "agent-1", SendRequest{From: "agent-2", Type: TypeUrgent, Priority: PriorityUrgent, Body: "second message"})
	require.NoError(t, err)

	result, err := svc.List(ctx, "agent-1", FilterAll, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, 2, result.UnreadCount)
	// newest first
	assert.Equal(t, "second message", result.Messages[0].Body)
	assert.False(t, result.Messages[0].Read)
}

func TestListFiltersByUrgentAndType(t *testing.T) {
	svc := NewService(bustest.New(), newTestLogger())
	ctx := context.Background()

	_, _ = svc.Send(ctx, "agent-1", SendRequest{From: "a", Body: "info message"})
	_, _ = svc.Send(ctx, "agent-1", SendRequest{From: "b", Type: TypeReviewRequest, Body: "please review"})
	_, _ = svc.Send(ctx, "agent-1", SendRequest{From: "c", Priority: PriorityUrgent, Body: "fire"})

	urgent, err := svc.List(ctx, "agent-1", FilterUrgent, 10, 0)
	require.NoError(t, err)
	assert.Len(t, urgent.Messages, 1)
	assert.Equal(t, "fire", urgent.Messages[0].Body)

	review, err := svc.List(ctx, "agent-1", FilterReviewRequest, 10, 0)
	require.NoError(t, err)
	assert.Len(t, review.Messages, 1)
	assert.Equal(t, "please review", review.Messages[0].Body)
}

func TestMarkReadAdvancesCursorMonotonically(t *testing.T) {
	svc := NewService(bustest.New(), newTestLogger())
	ctx := context.Background()

	id1, _ := svc.Send(ctx, "agent-1", SendRequest{From: "a", Body: "one"})
	id2, _ := svc.Send(ctx, "agent-1", SendRequest{From: "a", Body: "two"})

	marked, err := svc.MarkRead(ctx, "agent-1", []string{id2})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	result, err := svc.List(ctx, "agent-1", FilterAll, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.UnreadCount)

	// Marking an older id read afterwards must not move the cursor backwards.
	_, err = svc.MarkRead(ctx, "agent-1", []string{id1})
	require.NoError(t, err)
	result, err = svc.List(ctx, "agent-1", FilterAll, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.UnreadCount)
}

func TestClearRemovesStreamAndCursor(t *testing.T) {
	svc := NewService(bustest.New(), newTestLogger())
	ctx := context.Background()

	_, _ = svc.Send(ctx, "agent-1", SendRequest{From: "a", Body: "one"})
	require.NoError(t, svc.Clear(ctx, "agent-1"))

	result, err := svc.List(ctx, "agent-1", FilterAll, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalCount)
}
