package agents

import (
	"time"

	"github.com/uptrace/bun"
)

// AgentTriggerType defines how an agent is triggered.
type AgentTriggerType string

const (
	TriggerTypeSchedule AgentTriggerType = "schedule"
	TriggerTypeManual   AgentTriggerType = "manual"
)

// RunStatus defines the status of an agent invocation log entry.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// LifecycleStateName is the coarse activity state of an agent, mirrored in
// C2 (pkg/bus) under bus.AgentState(id) rather than persisted as a row.
type LifecycleStateName string

const (
	StateIdle     LifecycleStateName = "idle"
	StateThinking LifecycleStateName = "thinking"
	StateWorking  LifecycleStateName = "working"
)

// GuardrailConfig bounds how often and how long an agent may be woken by the
// pulse scheduler. Defaults come from config.AgentsConfig; a project may
// override them per agent.
type GuardrailConfig struct {
	WakeCooldownSeconds     int `json:"wakeCooldownSeconds"`
	MaxWakesPerDay          int `json:"maxWakesPerDay"`
	MaxSessionMinutesPerDay int `json:"maxSessionMinutesPerDay"`
	MaxWakesPerPairPerDay   int `json:"maxWakesPerPairPerDay"`
	MaxConcurrentPulseRuns  int `json:"maxConcurrentPulseSessions"`
}

// Agent represents an agent the lifecycle controller schedules pulses for
// and tracks state on behalf of.
// Table: kb.agents
type Agent struct {
	bun.BaseModel `bun:"table:kb.agents,alias:a"`

	ID            string           `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID     string           `bun:"project_id,type:uuid,notnull" json:"projectId"`
	Name          string           `bun:"name,notnull" json:"name"`
	StrategyType  string           `bun:"strategy_type,notnull" json:"strategyType"`
	Prompt        *string          `bun:"prompt" json:"prompt"`
	CronSchedule  string           `bun:"cron_schedule,notnull" json:"cronSchedule"`
	Enabled       bool             `bun:"enabled,notnull,default:true" json:"enabled"`
	TriggerType   AgentTriggerType `bun:"trigger_type,notnull,default:'schedule'" json:"triggerType"`
	PulseEnabled  bool             `bun:"pulse_enabled,notnull,default:false" json:"pulseEnabled"`
	Guardrails    *GuardrailConfig `bun:"guardrails,type:jsonb" json:"guardrails,omitempty"`
	DeclaredTools []ToolContract   `bun:"declared_tools,type:jsonb,default:'[]'" json:"declaredTools,omitempty"`
	Config        map[string]any   `bun:"config,type:jsonb,default:'{}'" json:"config"`
	Description   *string          `bun:"description" json:"description"`
	LastRunAt     *time.Time       `bun:"last_run_at" json:"lastRunAt"`
	LastRunStatus *string          `bun:"last_run_status" json:"lastRunStatus"`
	CreatedAt     time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

// AgentRun records each pulse or manual invocation of an agent, for
// observability. This is distinct from domain/runs.Run, which tracks a
// dispatched multi-step run's execution; an AgentRun here is one tick of the
// lifecycle controller, zero or more of which may create a domain/runs.Run.
// Table: kb.agent_runs
type AgentRun struct {
	bun.BaseModel `bun:"table:kb.agent_runs,alias:ar"`

	ID           string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	AgentID      string         `bun:"agent_id,type:uuid,notnull" json:"agentId"`
	Status       RunStatus      `bun:"status,notnull" json:"status"`
	StartedAt    time.Time      `bun:"started_at,notnull" json:"startedAt"`
	CompletedAt  *time.Time     `bun:"completed_at" json:"completedAt"`
	DurationMs   *int           `bun:"duration_ms" json:"durationMs"`
	Summary      map[string]any `bun:"summary,type:jsonb,default:'{}'" json:"summary"`
	ErrorMessage *string        `bun:"error_message" json:"errorMessage"`
	SkipReason   *string        `bun:"skip_reason" json:"skipReason"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`

	Agent *Agent `bun:"rel:belongs-to,join:agent_id=id" json:"-"`
}

// CurrentWork identifies the step/run an agent is presently executing, nil
// when the agent is idle or thinking.
type CurrentWork struct {
	StepID string `json:"stepId"`
	RunID  string `json:"runId"`
}

// LifecycleState is the C2-backed, non-durable view of an agent's activity,
// serialised to JSON at bus.AgentState(agentID). WakesToday and WorkLedger
// are derived from separate C2 keys rather than duplicated here; they're
// populated by the service layer when assembling a response.
type LifecycleState struct {
	State        LifecycleStateName `json:"state"`
	LastActive   time.Time          `json:"lastActive"`
	CurrentWork  *CurrentWork       `json:"currentWork,omitempty"`
	PulseEnabled bool               `json:"pulseEnabled"`
	LastPulse    *time.Time         `json:"lastPulse,omitempty"`
	NextPulse    *time.Time         `json:"nextPulse,omitempty"`
	WakesToday   int                `json:"wakesToday"`
	WorkLedger   []string           `json:"workLedger,omitempty"`
}

// WorkLock describes an exclusive hold an agent has taken on a work item,
// backed by bus.WorkLock(agentID, workKey).
type WorkLock struct {
	AgentID     string    `json:"agentId"`
	WorkKey     string    `json:"workKey"`
	SessionID   string    `json:"sessionId"`
	Description string    `json:"description"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	TTLSeconds  int       `json:"ttlSeconds"`
}
