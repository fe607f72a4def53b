package bus

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a record appended to the GlobalEvents stream. Every
// long-running duty (reconciler, pulse driver, webhook router, session
// router) agrees on this vocabulary so none of them need to import another's
// package just to recognise what happened.
type EventType string

const (
	EventRunCreated             EventType = "RUN_CREATED"
	EventRunStatusChanged       EventType = "RUN_STATUS_CHANGED"
	EventRunComplete            EventType = "RUN_COMPLETE"
	EventRunFailed              EventType = "RUN_FAILED"
	EventStepStarted            EventType = "STEP_STARTED"
	EventStepComplete           EventType = "STEP_COMPLETE"
	EventStepFailed             EventType = "STEP_FAILED"
	EventProjectPlanningDone    EventType = "PROJECT_PLANNING_COMPLETED"
	EventPulseTriggered         EventType = "PULSE_TRIGGERED"
	EventTaskCreated            EventType = "TASK_CREATED"
	EventTaskStatusChanged      EventType = "TASK_STATUS_CHANGED"
	EventTaskWorkspaceRemove    EventType = "TASK_WORKSPACE_REMOVE_REQUESTED"
	EventAgentInboxMessage      EventType = "AGENT_INBOX_MESSAGE"
)

// Envelope is the fixed shape every GlobalEvents entry carries; Data holds
// the event-specific payload as JSON so the stream's consumers only need to
// type-switch on Type before unmarshalling.
type Envelope struct {
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// PublishGlobal appends an Envelope to the GlobalEvents stream, the single
// point every reconcile/pulse/webhook/session duty reads from.
func PublishGlobal(ctx context.Context, b Bus, evtType EventType, agentID, projectID string, data any) (StreamID, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	env := Envelope{Type: evtType, AgentID: agentID, ProjectID: projectID, Data: raw, EmittedAt: time.Now()}
	fields := map[string]string{
		"type":      string(env.Type),
		"agentId":   env.AgentID,
		"projectId": env.ProjectID,
		"data":      string(env.Data),
		"emittedAt": env.EmittedAt.Format(time.RFC3339Nano),
	}
	return b.AppendStream(ctx, GlobalEvents(), fields, 100_000)
}
