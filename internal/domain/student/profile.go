package student

import (
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE HISTORY (append-only)
// ══════════════════════════════════════════════════════════════════════════════

// Profile is one version in a student's append-only profile history. A
// "change" is always a new row; rows are never mutated in place. The current
// profile is the most recently created row.
type Profile struct {
	ID        string
	StudentID string
	Narrative string
	Traits    map[string]string
	CreatedAt time.Time
}

// NewProfileVersion creates the next profile version for a student.
func NewProfileVersion(studentID, narrative string, traits map[string]string) *Profile {
	if traits == nil {
		traits = map[string]string{}
	}
	return &Profile{
		ID:        uuid.New().String(),
		StudentID: studentID,
		Narrative: narrative,
		Traits:    traits,
		CreatedAt: time.Now().UTC(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCOPED MEMORY
// ══════════════════════════════════════════════════════════════════════════════

// MemoryScope is the retention category of a student memory.
type MemoryScope string

const (
	// ScopePersonalFact holds permanent facts (interests, family, pets).
	ScopePersonalFact MemoryScope = "personal_fact"

	// ScopeGameState holds in-game progress; expires after the configured
	// game-state window (default 30 days).
	ScopeGameState MemoryScope = "game_state"

	// ScopeStrategyLog holds long-lived tutoring strategy notes; expires
	// after the configured strategy window (default 365 days).
	ScopeStrategyLog MemoryScope = "strategy_log"
)

// AllMemoryScopes lists every valid scope, in stable order.
func AllMemoryScopes() []MemoryScope {
	return []MemoryScope{ScopePersonalFact, ScopeGameState, ScopeStrategyLog}
}

// IsValid reports whether the scope is one of the allowed values.
func (s MemoryScope) IsValid() bool {
	switch s {
	case ScopePersonalFact, ScopeGameState, ScopeStrategyLog:
		return true
	}
	return false
}

// Memory is one scoped key/value fact about a student. Upsert semantics on
// (student_id, scope, key). Expired rows are excluded from reads and lazily
// purged by a background job.
type Memory struct {
	StudentID string
	Scope     MemoryScope
	Key       string
	Value     string
	ExpiresAt *time.Time // nil = never expires
	UpdatedAt time.Time
}

// Validate checks memory invariants.
func (m *Memory) Validate() error {
	if !m.Scope.IsValid() {
		return shared.NewDomainError("student", "ValidateMemory", shared.ErrInvalidInput, "unknown memory scope "+string(m.Scope))
	}
	if m.Key == "" {
		return shared.NewDomainError("student", "ValidateMemory", shared.ErrEmptyValue, "empty memory key")
	}
	return nil
}

// IsExpired reports whether the memory has passed its expiry.
func (m *Memory) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// ExpiryPolicy maps memory scopes to retention windows. A zero duration
// means the scope never expires.
type ExpiryPolicy map[MemoryScope]time.Duration

// DefaultExpiryPolicy returns the standard retention windows.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		ScopePersonalFact: 0,
		ScopeGameState:    30 * 24 * time.Hour,
		ScopeStrategyLog:  365 * 24 * time.Hour,
	}
}

// ExpiryFor computes the expires_at for a scope relative to now.
// Returns nil for scopes that never expire.
func (p ExpiryPolicy) ExpiryFor(scope MemoryScope, now time.Time) *time.Time {
	window, ok := p[scope]
	if !ok || window <= 0 {
		return nil
	}
	t := now.Add(window)
	return &t
}
