// Package redis implements Redis-backed infrastructure for Voice Tutor Hub.
package redis

import (
	"context"
	"strconv"

	"github.com/voicetutor/voice-tutor-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SPEND TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// UsageTracker accounts AI provider spend against a daily USD ceiling. One
// float counter exists per UTC day; the key's TTL runs out at midnight so the
// budget resets without any scheduled job.
//
// The tracker is deliberately fail-open: when Redis is unreachable the
// pipeline keeps analyzing rather than dropping calls over a missing counter.
// A nil tracker is valid and disables cost accounting entirely.
type UsageTracker struct {
	cache      *Cache
	ceilingUSD float64
}

// NewUsageTracker creates a UsageTracker. A ceiling of 0 means unlimited.
func NewUsageTracker(cache *Cache, ceilingUSD float64) *UsageTracker {
	return &UsageTracker{cache: cache, ceilingUSD: ceilingUSD}
}

// RecordSpend adds one analysis attempt's cost to today's counter and returns
// the running total. Zero-cost attempts are not recorded.
func (t *UsageTracker) RecordSpend(ctx context.Context, amountUSD float64) (float64, error) {
	if t == nil || t.cache == nil || amountUSD <= 0 {
		return 0, nil
	}

	key := CostKey(timeutil.DayKey(timeutil.Now()))
	total, err := t.cache.IncrByFloat(ctx, key, amountUSD)
	if err != nil {
		return 0, err
	}

	// Refresh the midnight TTL on every write. Cheap, and it heals a key
	// whose first write raced a Redis restart and lost its expiry.
	_ = t.cache.Expire(ctx, key, timeutil.UntilMidnight(timeutil.Now()))

	return total, nil
}

// SpentToday returns today's running spend.
func (t *UsageTracker) SpentToday(ctx context.Context) (float64, error) {
	if t == nil || t.cache == nil {
		return 0, nil
	}

	key := CostKey(timeutil.DayKey(timeutil.Now()))
	raw, err := t.cache.GetString(ctx, key)
	if err != nil {
		if err == ErrCacheMiss {
			return 0, nil
		}
		return 0, err
	}

	total, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CeilingReached reports whether today's spend has hit the configured
// ceiling. Redis errors read as "not reached" (fail-open).
func (t *UsageTracker) CeilingReached(ctx context.Context) bool {
	if t == nil || t.cache == nil || t.ceilingUSD <= 0 {
		return false
	}

	total, err := t.SpentToday(ctx)
	if err != nil {
		return false
	}
	return total >= t.ceilingUSD
}

// CeilingUSD returns the configured daily ceiling (0 = unlimited).
func (t *UsageTracker) CeilingUSD() float64 {
	if t == nil {
		return 0
	}
	return t.ceilingUSD
}
