package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// ErrRateLimitWait is returned when a request gives up waiting for a token.
var ErrRateLimitWait = errors.New("voice: rate limit wait exceeded")

// RateLimiterConfig holds rate limiting configuration for the call-data API.
type RateLimiterConfig struct {
	// RequestsPerSecond is the steady-state request rate.
	RequestsPerSecond float64

	// BurstSize is the maximum number of tokens the bucket holds.
	BurstSize int

	// WaitTimeout is the maximum time a request waits for a token before
	// giving up.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults for the voice
// platform API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 5.0,
		BurstSize:         10,
		WaitTimeout:       10 * time.Second,
	}
}

// RateLimiter implements a token bucket rate limiter for outbound platform
// requests. Tokens refill continuously at the configured rate; Allow blocks
// until a token is available, the context is cancelled, or the wait timeout
// expires.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a RateLimiter, starting with a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultRateLimiterConfig().BurstSize
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultRateLimiterConfig().WaitTimeout
	}

	return &RateLimiter{
		config:     cfg,
		tokens:     float64(cfg.BurstSize),
		lastRefill: time.Now(),
	}
}

// Allow blocks until a token is available or the wait budget runs out.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(rl.config.WaitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := rl.tryTake()
		if ok {
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: next token in %s", ErrRateLimitWait, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryTake consumes one token if available; otherwise it returns how long to
// wait for the next token.
func (rl *RateLimiter) tryTake() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}

	deficit := 1 - rl.tokens
	wait := time.Duration(deficit / rl.config.RequestsPerSecond * float64(time.Second))
	return wait, false
}

// refill adds tokens for the time elapsed since the last refill.
// Must be called with the mutex held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.config.RequestsPerSecond
	if rl.tokens > float64(rl.config.BurstSize) {
		rl.tokens = float64(rl.config.BurstSize)
	}
}

// Tokens returns the current token count, for metrics and tests.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}
