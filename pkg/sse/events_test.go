package sse

import "testing"

func TestIsStructural(t *testing.T) {
	tests := []struct {
		name string
		typ  SessionEventType
		want bool
	}{
		{"step_start is structural", EventStepStart, true},
		{"tool_end is structural", EventToolEnd, true},
		{"session_complete is structural", EventSessionComplete, true},
		{"thinking is not structural", EventThinking, false},
		{"output is not structural", EventOutput, false},
		{"heartbeat is not structural", EventHeartbeat, false},
		{"unknown type is not structural", EventRaw, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStructural(tt.typ); got != tt.want {
				t.Errorf("IsStructural(%q) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestNewSessionEvent(t *testing.T) {
	evt := NewSessionEvent("sess-1", EventOutput, map[string]string{"token": "hi"})

	if evt.Type != EventOutput {
		t.Errorf("Type = %q, want %q", evt.Type, EventOutput)
	}
	if evt.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", evt.SessionID, "sess-1")
	}
	if evt.Data == nil {
		t.Error("Data should not be nil")
	}
}

func TestNewConnectedEvent(t *testing.T) {
	evt := NewConnectedEvent("1700000000000-0")

	if evt.Type != string(EventConnected) {
		t.Errorf("Type = %q, want %q", evt.Type, EventConnected)
	}
	if evt.SinceID != "1700000000000-0" {
		t.Errorf("SinceID = %q, want %q", evt.SinceID, "1700000000000-0")
	}
}

func TestNewDisconnectEvent(t *testing.T) {
	evt := NewDisconnectEvent(DisconnectBackpressure)

	if evt.Reason != DisconnectBackpressure {
		t.Errorf("Reason = %q, want %q", evt.Reason, DisconnectBackpressure)
	}
}
