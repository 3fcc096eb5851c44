// Package redis implements Redis-backed infrastructure for Voice Tutor Hub.
package redis

import (
	"context"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT CONTEXT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// CachedContext is the snapshot of student context the analysis prompt is
// assembled from: the current profile version plus live memories. It is
// invalidated after every applied delta.
type CachedContext struct {
	Profile  *student.Profile  `json:"profile,omitempty"`
	Memories []*student.Memory `json:"memories"`
	Known    bool              `json:"known"`
	CachedAt time.Time         `json:"cached_at"`
}

// ContextCache caches per-student context snapshots. Like the rest of this
// package it is nil-safe: a nil cache makes every read a miss and every write
// a no-op, so the pipeline falls back to PostgreSQL transparently.
type ContextCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewContextCache creates a ContextCache with the given TTL.
func NewContextCache(cache *Cache, ttl time.Duration) *ContextCache {
	return &ContextCache{cache: cache, ttl: ttl}
}

// Get returns the cached context for a student, or ErrCacheMiss.
func (c *ContextCache) Get(ctx context.Context, studentID string) (*CachedContext, error) {
	if c == nil || c.cache == nil {
		return nil, ErrCacheMiss
	}

	var snapshot CachedContext
	if err := c.cache.Get(ctx, ContextKey(studentID), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Put stores a context snapshot for a student.
func (c *ContextCache) Put(ctx context.Context, studentID string, snapshot *CachedContext) error {
	if c == nil || c.cache == nil || snapshot == nil {
		return nil
	}

	snapshot.CachedAt = time.Now().UTC()
	return c.cache.Set(ctx, ContextKey(studentID), snapshot, c.ttl)
}

// Invalidate drops the cached context. Called after a delta is applied so the
// next call sees fresh profile and memory state.
func (c *ContextCache) Invalidate(ctx context.Context, studentID string) error {
	if c == nil || c.cache == nil {
		return nil
	}

	return c.cache.Delete(ctx, ContextKey(studentID))
}
