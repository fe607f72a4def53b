// Package retrieval tracks adaptive ranking signal for memories an agent
// recalls during a step, part of C1's State Store. Access/success/failure
// counters are durable; success_rate and adaptive_score are never stored —
// they are recomputed on every read so time-decay (rehabilitation, recency)
// is always current, per the teacher's embeddingpolicies precedent of
// deriving scoring at read time instead of caching derived columns.
package retrieval

import (
	"time"

	"github.com/uptrace/bun"
)

// Score is the durable counter row for one (agent, memory) pair. Table:
// core.retrieval_scores.
type Score struct {
	bun.BaseModel `bun:"table:core.retrieval_scores,alias:rs"`

	AgentID      string    `bun:"agent_id,pk" json:"agentId"`
	MemoryID     string    `bun:"memory_id,pk" json:"memoryId"`
	AccessCount  int       `bun:"access_count,notnull,default:0" json:"accessCount"`
	SuccessCount int       `bun:"success_count,notnull,default:0" json:"successCount"`
	FailureCount int       `bun:"failure_count,notnull,default:0" json:"failureCount"`
	LastAccessed time.Time `bun:"last_accessed,notnull" json:"lastAccessed"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// ScoredMemory is the read-time view of a Score: the durable counters plus
// SuccessRate/AdaptiveScore computed as of `now`.
type ScoredMemory struct {
	MemoryID      string  `json:"memoryId"`
	AccessCount   int     `json:"accessCount"`
	SuccessCount  int     `json:"successCount"`
	FailureCount  int     `json:"failureCount"`
	SuccessRate   float64 `json:"successRate"`
	AdaptiveScore float64 `json:"adaptiveScore"`
	LastAccessed  int64   `json:"lastAccessed"`
}

// RetrievalEvent is one memory surfaced during a recall/wake call, as
// reported by the (out-of-core) agent runtime after a step completes.
type RetrievalEvent struct {
	MemoryID        string  `json:"memory_id"`
	MemoryTitle     string  `json:"memory_title,omitempty"`
	Query           string  `json:"query,omitempty"`
	RetrievalSource string  `json:"retrieval_source,omitempty"`
	RawScore        float64 `json:"raw_score,omitempty"`
}

// RecordBatch is the input to Service.Record: a batch of retrievals from a
// single completed step, tagged with whether the step ultimately succeeded.
type RecordBatch struct {
	AgentID     string
	SessionID   string
	RunID       string
	StepSuccess *bool
	Retrievals  []RetrievalEvent
}
