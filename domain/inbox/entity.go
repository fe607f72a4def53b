package inbox

import "time"

// MessageType is who-should-care-about-this for an inter-agent message.
type MessageType string

const (
	TypeInfo          MessageType = "info"
	TypeReviewRequest  MessageType = "review_request"
	TypeHelpRequest    MessageType = "help_request"
	TypeUrgent         MessageType = "urgent"
	TypeWorkAssignment MessageType = "work_assignment"
)

// Priority orders a message for triage independent of its MessageType.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Filter narrows List to a subset of an agent's inbox.
type Filter string

const (
	FilterAll           Filter = "all"
	FilterUnread        Filter = "unread"
	FilterUrgent        Filter = "urgent"
	FilterReviewRequest Filter = "review_request"
	FilterHelpRequest   Filter = "help_request"
)

// Message is one entry in an agent's inbox stream. ID is the bus stream id
// (format "<unixMillis>-<seq>"), the single source of chronological order —
// no timestamp-based sort is ever performed.
type Message struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	FromAgentID string      `json:"fromAgentId,omitempty"`
	To          string      `json:"to"`
	Type        MessageType `json:"type"`
	Priority    Priority    `json:"priority"`
	Subject     string      `json:"subject,omitempty"`
	Body        string      `json:"body"`
	RunContext  string      `json:"runContext,omitempty"`
	StepContext string      `json:"stepContext,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Read        bool        `json:"read"`
}

// SendRequest is the input to Send.
type SendRequest struct {
	From        string
	FromAgentID string
	Type        MessageType
	Priority    Priority
	Subject     string
	Body        string
	RunContext  string
	StepContext string
}

// ListResult is the paginated view List returns.
type ListResult struct {
	Messages    []Message `json:"messages"`
	UnreadCount int       `json:"unreadCount"`
	TotalCount  int       `json:"totalCount"`
	HasMore     bool      `json:"hasMore"`
}
