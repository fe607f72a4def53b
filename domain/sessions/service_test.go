package sessions

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/bus/bustest"
	"github.com/djinnbot/core/pkg/sse"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService() *Service {
	return NewService(bustest.New(), nil, 8, 1000, newTestLogger())
}

func drain(t *testing.T, frames <-chan Frame, n int) []Frame {
	t.Helper()
	out := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("channel closed after %d frames, wanted %d", i, n)
			}
			out = append(out, f)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	return out
}

func TestPublishStructuralIsReplayed(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Publish(ctx, "sess-1", sse.EventStepStart, map[string]string{"step": "one"}))
	require.NoError(t, svc.Publish(ctx, "sess-1", sse.EventStepEnd, map[string]string{"step": "one"}))

	frames, err := svc.Subscribe(ctx, "sess-1", bus.Zero)
	require.NoError(t, err)

	got := drain(t, frames, 3) // two replayed + connected sentinel
	assert.Equal(t, string(sse.EventStepStart), got[0].Event)
	assert.Equal(t, string(sse.EventStepEnd), got[1].Event)
	assert.Equal(t, string(sse.EventConnected), got[2].Event)
}

func TestPublishTokenEventIsLiveOnly(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := svc.Subscribe(ctx, "sess-2", bus.Zero)
	require.NoError(t, err)

	got := drain(t, frames, 1) // connected sentinel, no replay yet
	assert.Equal(t, string(sse.EventConnected), got[0].Event)

	require.NoError(t, svc.Publish(ctx, "sess-2", sse.EventOutput, map[string]string{"token": "hi"}))

	live := drain(t, frames, 1)
	assert.Equal(t, string(sse.EventOutput), live[0].Event)

	// a token event must never have been appended to the replay stream
	again, err := svc.Subscribe(context.Background(), "sess-2", bus.Zero)
	require.NoError(t, err)
	replayed := drain(t, again, 1)
	assert.Equal(t, string(sse.EventConnected), replayed[0].Event)
}

func TestSubscribeReplaysSinceCursor(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Publish(ctx, "sess-3", sse.EventStepStart, map[string]string{"step": "one"}))

	frames, err := svc.Subscribe(ctx, "sess-3", bus.Zero)
	require.NoError(t, err)
	first := drain(t, frames, 2)
	require.Equal(t, string(sse.EventStepStart), first[0].Event)
	require.Equal(t, string(sse.EventConnected), first[1].Event)

	require.NoError(t, svc.Publish(ctx, "sess-3", sse.EventStepEnd, map[string]string{"step": "one"}))

	// a fresh subscriber starting from bus.Zero still sees both structural events
	fresh, err := svc.Subscribe(ctx, "sess-3", bus.Zero)
	require.NoError(t, err)
	all := drain(t, fresh, 3)
	assert.Equal(t, string(sse.EventStepStart), all[0].Event)
	assert.Equal(t, string(sse.EventStepEnd), all[1].Event)
	assert.Equal(t, string(sse.EventConnected), all[2].Event)
}
