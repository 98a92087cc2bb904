package resilience

import (
	"sync"
	"time"
)

// Limiter is a simple token bucket, adapted from the teacher's per-key
// rate-limiter bucket (internal/adapters/rate_limiter/limiter.go) down to a
// single bucket guarding the market-data adapter's forced-refresh path.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewLimiter builds a bucket that permits ratePerSecond sustained calls with
// bursts up to burst.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
	}
	return &Limiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available and reports whether the call may
// proceed.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
