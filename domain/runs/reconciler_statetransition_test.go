package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/bus/bustest"
)

// fakeRunStore is an in-memory runStore, narrow enough to exercise
// Reconciler.handle's actual state transitions without a live Postgres
// instance.
type fakeRunStore struct {
	runs  map[string]*Run
	steps map[string]*Step
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[string]*Run{}, steps: map[string]*Step{}}
}

func (f *fakeRunStore) GetByID(_ context.Context, id string) (*Run, error) {
	return f.runs[id], nil
}

func (f *fakeRunStore) UpsertStep(_ context.Context, step *Step) error {
	f.steps[step.ID] = step
	return nil
}

func (f *fakeRunStore) SetCurrentStep(_ context.Context, runID, stepID string) error {
	if run, ok := f.runs[runID]; ok {
		run.CurrentStepID = &stepID
	}
	return nil
}

func (f *fakeRunStore) UpdateStatus(_ context.Context, runID string, status Status, fromNotIn []Status, completedAt *time.Time) (bool, error) {
	run, ok := f.runs[runID]
	if !ok {
		return false, nil
	}
	for _, s := range fromNotIn {
		if run.Status == s {
			return false, nil
		}
	}
	run.Status = status
	if completedAt != nil {
		run.CompletedAt = completedAt
	}
	return true, nil
}

func (f *fakeRunStore) SetOutputs(_ context.Context, runID string, outputs []byte) error {
	if run, ok := f.runs[runID]; ok {
		run.Outputs = outputs
	}
	return nil
}

func (f *fakeRunStore) GetCursor(context.Context) (bus.StreamID, error) { return bus.Zero, nil }
func (f *fakeRunStore) SetCursor(context.Context, bus.StreamID) error   { return nil }

// fakeTaskStore is an in-memory taskStore for the reconciler's task-bridging
// and planning post-processing.
type fakeTaskStore struct {
	tasks    map[string]*tasks.Task
	byRunID  map[string]string
	semantic map[string]*tasks.StatusSemantics
	created  []*tasks.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*tasks.Task{}, byRunID: map[string]string{}, semantic: map[string]*tasks.StatusSemantics{}}
}

func (f *fakeTaskStore) GetByID(_ context.Context, _, taskID string) (*tasks.Task, error) {
	return f.tasks[taskID], nil
}

func (f *fakeTaskStore) FindByRunID(_ context.Context, runID string) (*tasks.Task, error) {
	id, ok := f.byRunID[runID]
	if !ok {
		return nil, nil
	}
	return f.tasks[id], nil
}

func (f *fakeTaskStore) GetStatusSemantics(_ context.Context, projectID string) (*tasks.StatusSemantics, error) {
	return f.semantic[projectID], nil
}

func (f *fakeTaskStore) MoveToColumn(_ context.Context, _, taskID, columnID string, _ int, _ string) error {
	if t, ok := f.tasks[taskID]; ok {
		t.ColumnID = columnID
	}
	return nil
}

func (f *fakeTaskStore) List(context.Context, tasks.TaskListParams) ([]tasks.Task, int, error) {
	return nil, 0, nil
}

func (f *fakeTaskStore) Create(_ context.Context, t *tasks.Task) (*tasks.Task, error) {
	f.created = append(f.created, t)
	return t, nil
}

func newTestReconciler(runs *fakeRunStore, ts *fakeTaskStore) (*Reconciler, *bustest.Fake) {
	b := bustest.New()
	return &Reconciler{b: b, repo: runs, tasksRepo: ts, log: newTestLogger()}, b
}

func eventEntry(evtType bus.EventType, data string) bus.StreamEntry {
	return bus.StreamEntry{Fields: map[string]string{"type": string(evtType), "data": data}}
}

func TestHandleStepStartedMovesRunFromPendingToRunning(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusPending}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventStepStarted,
		`{"runId":"run_1","stepId":"plan","agentId":"agent-1"}`))
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, runsStore.runs["run_1"].Status)
	step := runsStore.steps[StepID("run_1", "plan")]
	require.NotNil(t, step)
	assert.Equal(t, StepRunning, step.Status)
	assert.Equal(t, "plan", *runsStore.runs["run_1"].CurrentStepID)
}

func TestHandleStepStartedLeavesAlreadyRunningRunAlone(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusRunning}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventStepStarted,
		`{"runId":"run_1","stepId":"build"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, runsStore.runs["run_1"].Status)
}

func TestHandleStepCompleteStoresOutputs(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusRunning}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventStepComplete,
		`{"runId":"run_1","stepId":"plan","outputs":{"plan":"done"}}`))
	require.NoError(t, err)

	step := runsStore.steps[StepID("run_1", "plan")]
	require.NotNil(t, step)
	assert.Equal(t, StepCompleted, step.Status)
	assert.JSONEq(t, `{"plan":"done"}`, string(step.Outputs))
}

func TestHandleStepFailedRecordsError(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusRunning}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventStepFailed,
		`{"runId":"run_1","stepId":"plan","error":"boom"}`))
	require.NoError(t, err)

	step := runsStore.steps[StepID("run_1", "plan")]
	require.NotNil(t, step)
	assert.Equal(t, StepFailed, step.Status)
	require.NotNil(t, step.Error)
	assert.Equal(t, "boom", *step.Error)
}

func TestHandleRunCompleteFinalizesAndBridgesLinkedTask(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusRunning, ProjectID: strPtr("proj-1")}
	taskStore := newFakeTaskStore()
	taskStore.tasks["task_1"] = &tasks.Task{ID: "task_1", Status: "in_progress", ColumnID: "doing"}
	taskStore.byRunID["run_1"] = "task_1"
	doneCol := "done-column"
	taskStore.semantic["proj-1"] = &tasks.StatusSemantics{
		ProjectID:    "proj-1",
		Statuses:     map[string]tasks.Classification{"in_progress": tasks.ClassInProgress, "done": tasks.ClassTerminalDone},
		DoneColumnID: &doneCol,
	}
	r, _ := newTestReconciler(runsStore, taskStore)

	err := r.handle(context.Background(), eventEntry(bus.EventRunComplete, `{"runId":"run_1"}`))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, runsStore.runs["run_1"].Status)
	assert.NotNil(t, runsStore.runs["run_1"].CompletedAt)
	assert.Equal(t, doneCol, taskStore.tasks["task_1"].ColumnID)
}

func TestHandleRunCompleteIsIdempotentOnRedelivery(t *testing.T) {
	now := time.Now()
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusCompleted, CompletedAt: &now}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventRunComplete, `{"runId":"run_1"}`))
	require.NoError(t, err)

	// A second delivery of the same terminal event must not error and must
	// not re-finalize — UpdateStatus's fromNotIn guard already rejected the
	// transition, and handleRunFinal treats that as an idempotent no-op.
	assert.Equal(t, StatusCompleted, runsStore.runs["run_1"].Status)
}

func TestHandleRunFailedTransitionsRunToFailed(t *testing.T) {
	runsStore := newFakeRunStore()
	runsStore.runs["run_1"] = &Run{ID: "run_1", Status: StatusRunning}
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventRunFailed, `{"runId":"run_1","error":"timeout"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, runsStore.runs["run_1"].Status)
}

func TestHandleIgnoresUnrelatedEventTypes(t *testing.T) {
	runsStore := newFakeRunStore()
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventTaskCreated, `{"taskId":"task_1"}`))
	require.NoError(t, err)
}

func TestHandleMissingRunIDIsANoOp(t *testing.T) {
	runsStore := newFakeRunStore()
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventStepStarted, `not json`))
	require.NoError(t, err)
}

func TestHandleRunFinalMissingRunReturnsError(t *testing.T) {
	runsStore := newFakeRunStore()
	r, _ := newTestReconciler(runsStore, newFakeTaskStore())

	err := r.handle(context.Background(), eventEntry(bus.EventRunComplete, `{"runId":"missing"}`))
	require.Error(t, err)
}

func strPtr(s string) *string { return &s }
