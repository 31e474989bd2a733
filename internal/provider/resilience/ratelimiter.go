package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for the outbound rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the shared budget for all calls through the limiter.
	// Zero or negative means unlimited.
	RequestsPerMinute int

	// OnWait is called after every Wait with the time spent blocked (optional).
	OnWait func(waited time.Duration)
}

// RateLimiterState is a snapshot of limiter usage.
type RateLimiterState struct {
	LastRequestAt time.Time
	RequestCount  int64
}

// RateLimiter enforces a minimum interval of 60s/RequestsPerMinute between
// consecutive requests. One limiter is shared by every caller it is handed to,
// so all of them draw from a single budget.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	onWait   func(time.Duration)

	mu    sync.Mutex
	state RateLimiterState
}

// NewRateLimiter creates a rate limiter with a burst of one.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{onWait: cfg.OnWait}
	if cfg.RequestsPerMinute <= 0 {
		rl.limiter = rate.NewLimiter(rate.Inf, 1)
		return rl
	}

	rl.interval = time.Minute / time.Duration(cfg.RequestsPerMinute)
	rl.limiter = rate.NewLimiter(rate.Every(rl.interval), 1)
	return rl
}

// Wait blocks until the next request may be sent or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	now := time.Now()

	l.mu.Lock()
	l.state.LastRequestAt = now
	l.state.RequestCount++
	l.mu.Unlock()

	if l.onWait != nil {
		l.onWait(now.Sub(start))
	}
	return nil
}

// Interval returns the minimum spacing between requests (zero when unlimited).
func (l *RateLimiter) Interval() time.Duration {
	return l.interval
}

// State returns the current limiter state.
func (l *RateLimiter) State() RateLimiterState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
