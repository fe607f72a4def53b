package sessions

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is an agent session's lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is one agent container run: a chat turn, a pulse wake, or a
// resolve run, all of which stream structural events the same way.
// Table: core.sessions
type Session struct {
	bun.BaseModel `bun:"table:core.sessions,alias:sess"`

	ID             string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	AgentID        string     `bun:"agent_id,notnull" json:"agentId"`
	Status         Status     `bun:"status,notnull,default:'starting'" json:"status"`
	Model          string     `bun:"model,notnull,default:''" json:"model"`
	ContainerID    string     `bun:"container_id,notnull,default:''" json:"containerId,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	StartedAt      *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	LastActivityAt time.Time  `bun:"last_activity_at,nullzero,notnull,default:current_timestamp" json:"lastActivityAt"`
	CompletedAt    *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	MessageCount   int        `bun:"message_count,notnull,default:0" json:"messageCount"`
}

// IsTerminal reports whether the session has stopped producing events.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled
}
