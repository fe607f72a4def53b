package bus

import "fmt"

// Well-known key/stream/channel names. The "djinnbot:" prefix matches the
// convention read directly off the original Redis-backed lifecycle and
// inbox endpoints (djinnbot:agent:{id}:state, :queue, :pulse, :inbox,
// :inbox:last_read) so operators migrating dashboards keep the same key
// shape.

// GlobalEvents is the single cross-cutting stream the reconciler, pulse
// driver, and webhook router all publish structural events onto.
func GlobalEvents() string { return "djinnbot:events:global" }

// NewRuns is the dispatcher-to-engine handoff stream for newly created runs.
func NewRuns() string { return "djinnbot:events:new_runs" }

// NewSwarms is the dispatcher-to-engine handoff stream for parallel executor
// swarms.
func NewSwarms() string { return "djinnbot:events:new_swarms" }

// RunStream is the persistent per-run structural event stream the reconciler
// mirrors relevant GlobalEvents entries onto, so a run's SSE subscribers
// don't have to scan the cross-cutting global stream themselves.
func RunStream(runID string) string {
	return fmt.Sprintf("djinnbot:runs:%s:stream", runID)
}

// RunChannel is the live per-run fan-out pub/sub channel.
func RunChannel(runID string) string {
	return fmt.Sprintf("djinnbot:runs:%s", runID)
}

// SessionStream is the persistent per-session structural event stream.
func SessionStream(sessionID string) string {
	return fmt.Sprintf("djinnbot:sessions:%s:stream", sessionID)
}

// SessionChannel is the live per-session fan-out pub/sub channel.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("djinnbot:sessions:%s", sessionID)
}

// SessionControl is the channel a session subscriber listens on for
// cancellation signals (e.g. a pulse deadline exceeded).
func SessionControl(sessionID string) string {
	return fmt.Sprintf("djinnbot:sessions:%s:control", sessionID)
}

// SessionsLive is the meta-channel announcing session create/status/end.
func SessionsLive() string { return "djinnbot:sessions:live" }

// AgentInbox is the durable inter-agent message stream for one agent.
func AgentInbox(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:inbox", agentID)
}

// AgentInboxLastRead is the read-cursor key for one agent's inbox.
func AgentInboxLastRead(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:inbox:last_read", agentID)
}

// WebhooksGithub is the post-verification webhook notice channel.
func WebhooksGithub() string { return "djinnbot:webhooks:github" }

// AgentState is the agent lifecycle state JSON key.
func AgentState(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:state", agentID)
}

// AgentQueue is the pending-work list key (length readable via LLen).
func AgentQueue(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:queue", agentID)
}

// AgentPulse is the pulse configuration + last-pulse metadata key.
func AgentPulse(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:pulse", agentID)
}

// WorkLock is a single work-lock entry key.
func WorkLock(agentID, workKey string) string {
	return fmt.Sprintf("djinnbot:agent:%s:work_lock:%s", agentID, workKey)
}

// WorkLedger is the set of active lock-keys for an agent.
func WorkLedger(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:work_ledger", agentID)
}

// WakesCounter is the daily wake-count key for an agent ("YYYY-MM-DD" date).
func WakesCounter(agentID, date string) string {
	return fmt.Sprintf("djinnbot:agent:%s:wakes:%s", agentID, date)
}

// SessionMinutesCounter is the daily session-minutes budget key for an agent.
func SessionMinutesCounter(agentID, date string) string {
	return fmt.Sprintf("djinnbot:agent:%s:session_minutes:%s", agentID, date)
}

// WakePairCounter is the daily (self, peer) wake-pair counter key.
func WakePairCounter(agentID, peerID, date string) string {
	return fmt.Sprintf("djinnbot:agent:%s:wake_pair:%s:%s", agentID, peerID, date)
}

// ConcurrentPulseSessions is the set of currently-live pulse session ids for
// an agent, used to enforce max_concurrent_pulse_sessions.
func ConcurrentPulseSessions(agentID string) string {
	return fmt.Sprintf("djinnbot:agent:%s:pulse_sessions", agentID)
}
