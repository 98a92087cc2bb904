// Package resilience adapts the teacher's circuit-breaker and rate-limiter
// adapters (internal/adapters/circuit_breaker, internal/adapters/rate_limiter)
// into the market-data adapter's domain: protecting repeated upstream calls
// from a downed provider, and bounding the rate of forced-refresh calls.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and rejects a call outright.
var ErrOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig holds the breaker's thresholds; zero fields take the
// defaults set by setDefaults.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenDuration     time.Duration
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
}

// Breaker wraps a fallible call, opening after a run of consecutive
// failures and only letting a probe through once OpenDuration has elapsed.
type Breaker struct {
	mu     sync.Mutex
	name   string
	cfg    BreakerConfig
	logger *slog.Logger

	state              breakerState
	consecutiveFailure int
	consecutiveSuccess int
	nextRetry          time.Time
}

func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{name: name, cfg: cfg, logger: logger.With("component", "circuit-breaker", "name", name)}
}

// Execute runs fn if the breaker allows it, otherwise returns ErrOpen
// without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen && time.Now().After(b.nextRetry) {
		b.setState(stateHalfOpen)
	}
	return b.state != stateOpen
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailure = 0
	if b.state == stateHalfOpen {
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.setState(stateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccess = 0
	b.consecutiveFailure++

	switch b.state {
	case stateClosed:
		if b.consecutiveFailure >= b.cfg.FailureThreshold {
			b.setState(stateOpen)
		}
	case stateHalfOpen:
		b.setState(stateOpen)
	}
}

func (b *Breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	b.logger.Info("state change", "from", b.state, "to", s)
	b.state = s
	if s == stateOpen {
		b.nextRetry = time.Now().Add(b.cfg.OpenDuration)
	}
}
