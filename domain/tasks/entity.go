package tasks

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Priority orders a task within its kanban column.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task represents a task in the kb.tasks table. Status is a free string
// validated at write time against the owning project's StatusSemantics
// rather than a fixed enum, since different projects configure different
// kanban columns.
type Task struct {
	bun.BaseModel `bun:"table:kb.tasks,alias:t"`

	ID              string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID       string          `bun:"project_id,notnull,type:uuid" json:"projectId"`
	Title           string          `bun:"title,notnull" json:"title"`
	Description     *string         `bun:"description" json:"description,omitempty"`
	Type            string          `bun:"type,notnull" json:"type"`
	Status          string          `bun:"status,notnull,default:'pending'" json:"status"`
	Priority        Priority        `bun:"priority,notnull,default:'normal'" json:"priority"`
	AssignedAgent   *string         `bun:"assigned_agent,type:uuid" json:"assignedAgent,omitempty"`
	RunID           *string         `bun:"run_id,type:uuid" json:"runId,omitempty"`
	ParentTaskID    *string         `bun:"parent_task_id,type:uuid" json:"parentTaskId,omitempty"`
	Tags            []string        `bun:"tags,array" json:"tags,omitempty"`
	ColumnID        string          `bun:"column_id,notnull" json:"columnId"`
	ColumnPosition  int             `bun:"column_position,notnull,default:0" json:"columnPosition"`
	ResolvedAt      *time.Time      `bun:"resolved_at" json:"resolvedAt,omitempty"`
	ResolvedBy      *string         `bun:"resolved_by,type:uuid" json:"resolvedBy,omitempty"`
	ResolutionNotes *string         `bun:"resolution_notes" json:"resolutionNotes,omitempty"`
	SourceType      *string         `bun:"source_type" json:"sourceType,omitempty"`
	SourceID        *string         `bun:"source_id" json:"sourceId,omitempty"`
	Metadata        json.RawMessage `bun:"metadata,type:jsonb,default:'{}'" json:"metadata,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,default:now()" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,default:now()" json:"updatedAt"`
	CompletedAt     *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
}

// TaskMetadata is the decoded shape of Task.Metadata for PR-linked tasks.
// TransitionNotes accumulates one entry per status change made by the
// webhook router or reconciler, oldest first.
type TaskMetadata struct {
	PRURL           *string  `json:"pr_url,omitempty"`
	PRNumber        *int     `json:"pr_number,omitempty"`
	GitBranch       *string  `json:"git_branch,omitempty"`
	TransitionNotes []string `json:"transition_notes,omitempty"`
	Source          *string  `json:"source,omitempty"`
}

// DependencyEdge records a parent/child dependency between two tasks in the
// same project, forming a DAG via ParentTaskID on Task plus this explicit
// edge table for multi-parent dependencies that ParentTaskID alone cannot
// express.
type DependencyEdge struct {
	bun.BaseModel `bun:"table:kb.task_dependency_edges,alias:tde"`

	ID           string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID    string    `bun:"project_id,notnull,type:uuid" json:"projectId"`
	TaskID       string    `bun:"task_id,notnull,type:uuid" json:"taskId"`
	DependsOnID  string    `bun:"depends_on_id,notnull,type:uuid" json:"dependsOnId"`
	CreatedAt    time.Time `bun:"created_at,default:now()" json:"createdAt"`
}

// Classification groups a project-specific status string into the coarse
// states the reconciler and webhook router reason about.
type Classification string

const (
	ClassInitial      Classification = "initial"
	ClassClaimable    Classification = "claimable"
	ClassInProgress   Classification = "in_progress"
	ClassBlocked      Classification = "blocked"
	ClassTerminalDone Classification = "terminal_done"
	ClassTerminalFail Classification = "terminal_fail"
)

// StatusSemantics is a project-owned map from status string to its
// Classification, plus the well-known done/backlog columns. It replaces ad
// hoc string comparisons against hardcoded status values.
type StatusSemantics struct {
	bun.BaseModel `bun:"table:kb.task_status_semantics,alias:tss"`

	ProjectID       string                    `bun:"project_id,pk,type:uuid" json:"projectId"`
	Statuses        map[string]Classification `bun:"statuses,type:jsonb" json:"statuses"`
	DoneColumnID    *string                   `bun:"done_column_id" json:"doneColumnId,omitempty"`
	BacklogColumnID *string                   `bun:"backlog_column_id" json:"backlogColumnId,omitempty"`
}

// Classify returns the Classification for status, defaulting to
// ClassInProgress for a status the project hasn't registered, since an
// unknown status is more likely mid-flight than done or blocked.
func (s StatusSemantics) Classify(status string) Classification {
	if c, ok := s.Statuses[status]; ok {
		return c
	}
	return ClassInProgress
}

// TaskCounts represents task counts by status
type TaskCounts struct {
	Pending   int64 `json:"pending"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Cancelled int64 `json:"cancelled"`
}

// TaskCountsResponse wraps the counts for the API response
type TaskCountsResponse struct {
	Pending   int64 `json:"pending"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Cancelled int64 `json:"cancelled"`
}

// TaskListParams contains parameters for listing tasks
type TaskListParams struct {
	ProjectID string
	Status    string
	Type      string
	Limit     int
	Offset    int
}

// TaskListResponse wraps the list of tasks for the API response
type TaskListResponse struct {
	Data  []Task `json:"data"`
	Total int    `json:"total"`
}

// ResolveTaskRequest is the request body for resolving a task
type ResolveTaskRequest struct {
	Resolution      string  `json:"resolution"` // "accepted" or "rejected"
	ResolutionNotes *string `json:"resolutionNotes,omitempty"`
}

// TaskResponse wraps a single task for the API response
type TaskResponse struct {
	Data Task `json:"data"`
}
