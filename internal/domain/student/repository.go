package student

import (
	"context"
	"time"
)

// Resolution is the outcome of resolving a raw caller number.
type Resolution struct {
	Student *Student
	Created bool // true when the resolver auto-provisioned this student
}

// Repository is the persistence boundary for students and phone mappings.
type Repository interface {
	// Create inserts a new student. Returns shared.ErrStudentAlreadyExists
	// on conflict.
	Create(ctx context.Context, s *Student) error

	// GetByID returns a student by internal ID.
	GetByID(ctx context.Context, id string) (*Student, error)

	// GetByPhone returns the student mapped to a normalized phone number.
	GetByPhone(ctx context.Context, normalizedPhone string) (*Student, error)

	// Resolve looks up the student for a normalized phone number,
	// auto-provisioning a new student plus the phone mapping in a single
	// transaction when no mapping exists. Concurrent first-contact calls are
	// arbitrated by the mapping table's unique constraint: the loser re-reads
	// the winner's row.
	Resolve(ctx context.Context, normalizedPhone, placeholderPrefix string) (*Resolution, error)

	// UpdateDisplayName overwrites the display name; used when an analysis
	// delta asserts a real name for a placeholder-named student.
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

// ProfileRepository is the persistence boundary for profile history and
// scoped memories.
type ProfileRepository interface {
	// CurrentProfile returns the latest profile version, or
	// shared.ErrNotFound when the student has no profile yet.
	CurrentProfile(ctx context.Context, studentID string) (*Profile, error)

	// ProfileHistory returns profile versions, newest first.
	ProfileHistory(ctx context.Context, studentID string, limit int) ([]*Profile, error)

	// Memories returns all non-expired memories for a student, optionally
	// filtered by scope (empty scope = all scopes).
	Memories(ctx context.Context, studentID string, scope MemoryScope) ([]*Memory, error)

	// PurgeExpiredMemories deletes memories past their expiry. Returns the
	// number of rows removed.
	PurgeExpiredMemories(ctx context.Context, before time.Time) (int64, error)
}
