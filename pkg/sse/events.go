package sse

// SessionEventType names a structural or token-level event emitted by an
// agent session and forwarded over SSE.
type SessionEventType string

const (
	// EventConnected is the sentinel emitted once replay finishes and the
	// subscriber is live on the channel.
	EventConnected SessionEventType = "connected"

	EventStepStart       SessionEventType = "step_start"
	EventStepEnd         SessionEventType = "step_end"
	EventThinking        SessionEventType = "thinking"
	EventOutput          SessionEventType = "output"
	EventToolStart       SessionEventType = "tool_start"
	EventToolEnd         SessionEventType = "tool_end"
	EventTurnEnd         SessionEventType = "turn_end"
	EventResponseAborted SessionEventType = "response_aborted"
	EventContainerReady  SessionEventType = "container_ready"
	EventContainerBusy   SessionEventType = "container_busy"
	EventContainerIdle   SessionEventType = "container_idle"
	EventContainerExit   SessionEventType = "container_exiting"
	EventSessionComplete SessionEventType = "session_complete"
	EventHeartbeat       SessionEventType = "heartbeat"

	// EventRaw wraps any wire type this router doesn't recognise, so an
	// unfamiliar container build can't stall fan-out for everyone else.
	EventRaw SessionEventType = "raw"
)

// structuralEvents are appended to the replay stream as well as broadcast
// live; everything else is broadcast-only per the replay-vs-live split.
var structuralEvents = map[SessionEventType]bool{
	EventStepStart:       true,
	EventStepEnd:         true,
	EventTurnEnd:         true,
	EventToolStart:       true,
	EventToolEnd:         true,
	EventResponseAborted: true,
	EventContainerReady:  true,
	EventContainerBusy:   true,
	EventContainerIdle:   true,
	EventContainerExit:   true,
	EventSessionComplete: true,
}

// IsStructural reports whether an event type must be durably appended to
// the session's replay stream, versus broadcast live only.
func IsStructural(t SessionEventType) bool {
	return structuralEvents[t]
}

// SessionEvent is the payload carried over the SSE channel and, for
// structural types, persisted in the replay stream.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	SessionID string           `json:"sessionId"`
	Data      any              `json:"data,omitempty"`
}

// NewSessionEvent builds a SessionEvent for the given session.
func NewSessionEvent(sessionID string, t SessionEventType, data any) SessionEvent {
	return SessionEvent{Type: t, SessionID: sessionID, Data: data}
}

// ConnectedEvent is emitted once a subscriber finishes replay and starts
// receiving live traffic; it carries the stream-id the client should treat
// as its new cursor.
type ConnectedEvent struct {
	Type    string `json:"type"`
	SinceID string `json:"sinceId,omitempty"`
}

// NewConnectedEvent builds the sentinel emitted at the replay/live boundary.
func NewConnectedEvent(sinceID string) ConnectedEvent {
	return ConnectedEvent{Type: string(EventConnected), SinceID: sinceID}
}

// DisconnectReason labels why the server closed a subscriber's connection,
// so the client knows whether to reconnect with its existing cursor.
type DisconnectReason string

const (
	DisconnectBackpressure DisconnectReason = "backpressure"
	DisconnectShutdown     DisconnectReason = "server_shutdown"
)

// DisconnectEvent is the terminal frame sent before a subscriber's
// connection is closed by the server.
type DisconnectEvent struct {
	Type   string           `json:"type"`
	Reason DisconnectReason `json:"reason"`
}

// NewDisconnectEvent builds a disconnect frame for the given reason.
func NewDisconnectEvent(reason DisconnectReason) DisconnectEvent {
	return DisconnectEvent{Type: "disconnect", Reason: reason}
}
