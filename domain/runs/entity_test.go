package runs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		wantErr bool
	}{
		{StatusPending, StatusRunning, false},
		{StatusPaused, StatusRunning, false},
		{StatusRunning, StatusPaused, false},
		{StatusPending, StatusPaused, true},
		{StatusRunning, StatusCompleted, false},
		{StatusRunning, StatusFailed, false},
		{StatusRunning, StatusCancelled, false},
		{StatusPending, StatusCancelled, false},
		{StatusCompleted, StatusRunning, true},
		{StatusFailed, StatusCancelled, true},
		{StatusCancelled, StatusRunning, true},
	}
	for _, c := range cases {
		err := c.from.ValidateTransition(c.to)
		if c.wantErr {
			assert.Errorf(t, err, "%s -> %s should be rejected", c.from, c.to)
		} else {
			assert.NoErrorf(t, err, "%s -> %s should be allowed", c.from, c.to)
		}
	}
}

func TestRunDecode(t *testing.T) {
	taskID := "task-1"
	run := &Run{HumanContext: json.RawMessage(`{"task_id":"task-1","planning_run":true}`)}
	hc := run.Decode()
	if assert.NotNil(t, hc.TaskID) {
		assert.Equal(t, taskID, *hc.TaskID)
	}
	assert.True(t, hc.PlanningRun)
}

func TestRunDecodeEmpty(t *testing.T) {
	run := &Run{}
	hc := run.Decode()
	assert.Nil(t, hc.TaskID)
	assert.False(t, hc.PlanningRun)
}

func TestIsAgenticPlanning(t *testing.T) {
	assert.True(t, (&Run{PipelineID: "planning-agentic"}).IsAgenticPlanning())
	assert.False(t, (&Run{PipelineID: "resolve"}).IsAgenticPlanning())
}

func TestStepID(t *testing.T) {
	assert.Equal(t, "run_abc_plan", StepID("run_abc", "plan"))
}
