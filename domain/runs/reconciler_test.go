package runs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
)

func TestDecodeRunPayload(t *testing.T) {
	e := bus.StreamEntry{Fields: map[string]string{
		"data": `{"runId":"run_1","stepId":"plan","agentId":"agent-9","outputs":{"ok":true}}`,
	}}
	p := decodeRunPayload(e)
	assert.Equal(t, "run_1", p.RunID)
	assert.Equal(t, "plan", p.StepID)
	assert.Equal(t, "agent-9", p.AgentID)
	assert.JSONEq(t, `{"ok":true}`, string(p.Outputs))
}

func TestDecodeRunPayloadMalformed(t *testing.T) {
	e := bus.StreamEntry{Fields: map[string]string{"data": "not json"}}
	p := decodeRunPayload(e)
	assert.Empty(t, p.RunID)
}

func TestIsTransientClassifiesInfraErrors(t *testing.T) {
	assert.True(t, isTransient(apperror.ErrDatabase.WithInternal(errors.New("conn reset"))))
	assert.True(t, isTransient(apperror.ErrBusUnavailable.WithInternal(errors.New("dial tcp"))))
}

func TestIsTransientClassifiesPermanentErrors(t *testing.T) {
	assert.False(t, isTransient(apperror.ErrNotFound))
	assert.False(t, isTransient(errors.New("run_abc: no rows in result set")))
}
