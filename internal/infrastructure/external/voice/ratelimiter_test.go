package voice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstAllowed(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         3,
		WaitTimeout:       10 * time.Millisecond,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.Allow(ctx), "burst request %d", i)
	}
}

func TestRateLimiter_ExhaustedWaitExceeded(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.1, // next token ~10s away
		BurstSize:         1,
		WaitTimeout:       20 * time.Millisecond,
	})

	ctx := context.Background()
	assert.NoError(t, rl.Allow(ctx))

	err := rl.Allow(ctx)
	assert.ErrorIs(t, err, ErrRateLimitWait)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.1,
		BurstSize:         1,
		WaitTimeout:       10 * time.Second,
	})

	assert.NoError(t, rl.Allow(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Allow(ctx), context.Canceled)
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         1,
		WaitTimeout:       time.Second,
	})

	ctx := context.Background()
	assert.NoError(t, rl.Allow(ctx))

	// At 100 rps the next token arrives within ~10ms.
	start := time.Now()
	assert.NoError(t, rl.Allow(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimiter_TokensCapped(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         5,
		WaitTimeout:       time.Second,
	})

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, rl.Tokens(), 5.0)
}
