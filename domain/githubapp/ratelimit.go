package githubapp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// webhookRateLimit is a token bucket of 100 requests per minute per source
// (refilled at one token every 600ms, burst 100), applied per installation id.
// It is not a sliding window: a full burst of 100 is accepted at once.
const webhookRateLimit = 100

// RateLimiter enforces the per-installation webhook request rate.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from source (the installation id, or
// "unknown" before installation is resolved) is within its budget.
func (m *RateLimiter) Allow(source string) bool {
	return m.limiterFor(source).Allow()
}

func (m *RateLimiter) limiterFor(source string) *rate.Limiter {
	m.mu.RLock()
	l, ok := m.limiters[source]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.limiters[source]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Every(time.Minute/webhookRateLimit), webhookRateLimit)
	m.limiters[source] = l
	return l
}
