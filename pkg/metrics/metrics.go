// Package metrics holds the process-wide Prometheus collectors for the
// orchestration core's hot paths: work-lock contention, wake guardrail
// decisions, reconciler lag, and webhook ingestion latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkLockAttempts counts every Acquire call, split by outcome
	// ("acquired" or "held").
	WorkLockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "djinnbot",
		Subsystem: "worklock",
		Name:      "attempts_total",
		Help:      "Work lock acquisition attempts by outcome.",
	}, []string{"outcome"})

	// WakeDecisions counts every TryWake call, split by outcome
	// ("granted" or a WakeRejectReason string).
	WakeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "djinnbot",
		Subsystem: "guardrails",
		Name:      "wake_decisions_total",
		Help:      "Wake guardrail decisions by outcome (granted, or reject reason).",
	}, []string{"outcome"})

	// ReconcilerLag observes the gap between an event's bus timestamp and
	// the moment the reconciler picks it up, the freshness signal for C3.
	ReconcilerLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "djinnbot",
		Subsystem: "reconciler",
		Name:      "lag_seconds",
		Help:      "Seconds between an event's bus timestamp and reconciler pickup.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// ReconcilerRetries counts bounded-retry outcomes per event, split by
	// outcome ("ok", "retried", "dead_lettered").
	ReconcilerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "djinnbot",
		Subsystem: "reconciler",
		Name:      "retry_outcomes_total",
		Help:      "Reconciler event handling outcomes after bounded retry.",
	}, []string{"outcome"})

	// WebhookLatency observes end-to-end Ingest duration (rate limit,
	// signature verification, persistence, routing).
	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "djinnbot",
		Subsystem: "webhook",
		Name:      "ingest_seconds",
		Help:      "End-to-end webhook ingest duration.",
		Buckets:   prometheus.DefBuckets,
	})
)
