package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/internal/layout"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/bus/bustest"
	"github.com/djinnbot/core/pkg/sse"
)

func testLayout(t *testing.T, pipelinesDir string) *layout.Layout {
	t.Helper()
	return layout.NewLayoutFromDirs(t.TempDir(), t.TempDir(), t.TempDir(), pipelinesDir)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func drainRunFrames(t *testing.T, frames <-chan Frame, n int) []Frame {
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

func TestCreateRunRejectsMissingFields(t *testing.T) {
	svc := NewService(bustest.New(), nil, testLayout(t, t.TempDir()), 8, newTestLogger())
	_, err := svc.CreateRun(context.Background(), CreateRunRequest{})
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, apperror.ErrBadRequest.Code, appErr.Code)
}

func TestCreateRunRejectsUnknownPipeline(t *testing.T) {
	svc := NewService(bustest.New(), nil, testLayout(t, t.TempDir()), 8, newTestLogger())
	_, err := svc.CreateRun(context.Background(), CreateRunRequest{
		PipelineID:      "does-not-exist",
		TaskDescription: "do the thing",
	})
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, apperror.ErrPipelineNotFound.Code, appErr.Code)
}

func TestValidatePipelineAcceptsYmlAndYaml(t *testing.T) {
	dir := t.TempDir()
	body := "id: %s\nname: %s\nsteps:\n  - id: analyze\n    agent: reviewer\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resolve.yml"), []byte(fmt.Sprintf(body, "resolve", "resolve")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(fmt.Sprintf(body, "triage", "triage")), 0o644))

	svc := NewService(bustest.New(), nil, testLayout(t, dir), 8, newTestLogger())
	assert.True(t, svc.validatePipeline("resolve"))
	assert.True(t, svc.validatePipeline("triage"))
	assert.False(t, svc.validatePipeline("missing"))
}

func TestValidatePipelineRejectsStepless(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yml"), []byte("id: empty\nname: empty\n"), 0o644))

	svc := NewService(bustest.New(), nil, testLayout(t, dir), 8, newTestLogger())
	assert.False(t, svc.validatePipeline("empty"))
}

// TestSubscribeMirrorsEnvelopeShape verifies Subscribe decodes live channel
// traffic the same bus.Envelope shape the reconciler's mirror step publishes,
// so the two halves of the SSE pipeline stay in sync.
func TestSubscribeMirrorsEnvelopeShape(t *testing.T) {
	fake := bustest.New()
	svc := NewService(fake, nil, testLayout(t, t.TempDir()), 8, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := "run_test123"

	// Seed a replay entry the way the reconciler's mirror step appends it.
	_, err := fake.AppendStream(ctx, bus.RunStream(runID), map[string]string{
		"type": string(bus.EventStepStarted),
		"data": `{"stepId":"plan"}`,
	}, 0)
	require.NoError(t, err)

	frames, err := svc.Subscribe(ctx, runID, bus.Zero)
	require.NoError(t, err)

	got := drainRunFrames(t, frames, 2) // one replayed + connected sentinel
	assert.Equal(t, string(bus.EventStepStarted), got[0].Event)
	assert.Equal(t, string(sse.EventConnected), got[1].Event)

	// Now publish a live envelope the way mirror() does and confirm it
	// round-trips through Subscribe with the same event type and data.
	env := bus.Envelope{
		Type:      bus.EventStepComplete,
		EmittedAt: time.Now(),
		Data:      json.RawMessage(`{"stepId":"plan","outputs":{"ok":true}}`),
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, fake.Publish(ctx, bus.RunChannel(runID), payload))

	live := drainRunFrames(t, frames, 1)
	assert.Equal(t, string(bus.EventStepComplete), live[0].Event)
	assert.JSONEq(t, `{"stepId":"plan","outputs":{"ok":true}}`, string(live[0].Data))
}
