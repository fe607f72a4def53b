// Package runs implements the run dispatcher (C3): it creates runs, validates
// pipeline references, publishes dispatch events, and reconciles run/step
// status from the events consumed off the global bus stream.
package runs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// terminal reports whether a run in this status can still transition.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidateTransition reports whether a run may move from s to next, mirroring
// the state machine in the agent lifecycle controller: pending/running/paused
// are live, the three terminal states never re-open.
func (s Status) ValidateTransition(next Status) error {
	if s.terminal() {
		return fmt.Errorf("run is %s: no further transitions allowed", s)
	}
	switch next {
	case StatusRunning:
		if s != StatusPending && s != StatusPaused {
			return fmt.Errorf("cannot move run from %s to running", s)
		}
	case StatusPaused:
		if s != StatusRunning {
			return fmt.Errorf("cannot pause a run that is %s", s)
		}
	case StatusCancelled, StatusCompleted, StatusFailed:
		// any live state may terminate
	default:
		return fmt.Errorf("unknown target status %q", next)
	}
	return nil
}

// Run is one pipeline execution. Table: core.runs.
type Run struct {
	bun.BaseModel `bun:"table:core.runs,alias:run"`

	ID              string          `bun:"id,pk,type:text" json:"id"`
	PipelineID      string          `bun:"pipeline_id,notnull" json:"pipelineId"`
	ProjectID       *string         `bun:"project_id,type:uuid" json:"projectId,omitempty"`
	TaskDescription string          `bun:"task_description,notnull" json:"task"`
	Status          Status          `bun:"status,notnull,default:'pending'" json:"status"`
	CurrentStepID   *string         `bun:"current_step_id" json:"currentStepId,omitempty"`
	Outputs         json.RawMessage `bun:"outputs,type:jsonb,default:'{}'" json:"outputs,omitempty"`
	HumanContext    json.RawMessage `bun:"human_context,type:jsonb,default:'{}'" json:"humanContext,omitempty"`
	ModelOverride   *string         `bun:"model_override" json:"modelOverride,omitempty"`
	TaskBranch      *string         `bun:"task_branch" json:"taskBranch,omitempty"`
	WorkspaceType   string          `bun:"workspace_type,notnull,default:''" json:"workspaceType,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
	CompletedAt     *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
}

// HumanContext is the decoded shape of Run.HumanContext the reconciler
// reasons about for task-run bridging and planning post-processing.
type HumanContext struct {
	TaskID      *string `json:"task_id,omitempty"`
	PlanningRun bool    `json:"planning_run,omitempty"`
}

// Decode unmarshals Run.HumanContext, tolerating an empty/null payload.
func (r *Run) Decode() HumanContext {
	var hc HumanContext
	if len(r.HumanContext) == 0 {
		return hc
	}
	_ = json.Unmarshal(r.HumanContext, &hc)
	return hc
}

// IsAgenticPlanning reports whether this run's pipeline is the tool-calling
// planning variant, which creates tasks itself and only needs status reflow
// rather than a bulk import from structured outputs.
func (r *Run) IsAgenticPlanning() bool {
	return r.PipelineID == "planning-agentic"
}

// PlanningOutputs is the structured-output shape a non-agentic planning run's
// Outputs carries: a flat list of generated tasks (and their subtasks).
type PlanningOutputs struct {
	Tasks []PlannedTask `json:"tasks,omitempty"`
}

// PlannedTask is one task (optionally with subtasks) a planning run produced.
type PlannedTask struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Type        string        `json:"type,omitempty"`
	Priority    string        `json:"priority,omitempty"`
	Subtasks    []PlannedTask `json:"subtasks,omitempty"`
}

// StepStatus is a step's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one unit of work within a Run. Its id is the composite
// "{run_id}_{step_logical_id}" per spec so reconciler writes are naturally
// keyed without a lookup. Table: core.steps.
type Step struct {
	bun.BaseModel `bun:"table:core.steps,alias:step"`

	ID            string          `bun:"id,pk,type:text" json:"id"`
	RunID         string          `bun:"run_id,notnull,type:text" json:"runId"`
	StepLogicalID string          `bun:"step_logical_id,notnull" json:"stepId"`
	AgentID       *string         `bun:"agent_id" json:"agentId,omitempty"`
	Status        StepStatus      `bun:"status,notnull,default:'pending'" json:"status"`
	Inputs        json.RawMessage `bun:"inputs,type:jsonb,default:'{}'" json:"inputs,omitempty"`
	Outputs       json.RawMessage `bun:"outputs,type:jsonb,default:'{}'" json:"outputs,omitempty"`
	Error         *string         `bun:"error" json:"error,omitempty"`
	RetryCount    int             `bun:"retry_count,notnull,default:0" json:"retryCount"`
	MaxRetries    int             `bun:"max_retries,notnull,default:0" json:"maxRetries"`
	SessionID     *string         `bun:"session_id,type:uuid" json:"sessionId,omitempty"`
	StartedAt     *time.Time      `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
}

// StepID builds the composite id a Step row is keyed on.
func StepID(runID, stepLogicalID string) string {
	return fmt.Sprintf("%s_%s", runID, stepLogicalID)
}

// ReconcilerCursor persists the last-seen GlobalEvents stream id so the
// reconcile loop resumes exactly where it left off across restarts. Single
// row, pk fixed at "global". Table: core.run_reconciler_cursor.
type ReconcilerCursor struct {
	bun.BaseModel `bun:"table:core.run_reconciler_cursor,alias:cur"`

	Name      string    `bun:"name,pk" json:"name"`
	LastID    string    `bun:"last_id,notnull,default:'0'" json:"lastId"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

const cursorName = "global"
