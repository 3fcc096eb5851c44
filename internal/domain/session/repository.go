package session

import (
	"context"
	"time"
)

// Repository is the persistence boundary for sessions.
type Repository interface {
	// CreateOrGet inserts a session for the call_id, or returns the existing
	// one when the unique constraint fires. The bool is true when the row was
	// just created. This is the dedupe point for webhook retries.
	CreateOrGet(ctx context.Context, callID string) (*Session, bool, error)

	// GetByCallID returns the session for a call_id.
	GetByCallID(ctx context.Context, callID string) (*Session, error)

	// GetByID returns a session by its row id.
	GetByID(ctx context.Context, id string) (*Session, error)

	// SaveCallData records call content (transcript, duration, number) and
	// advances the session to fetched. degraded marks webhook-fallback data.
	SaveCallData(ctx context.Context, s *Session) error

	// AttachStudent links a resolved student to the session.
	AttachStudent(ctx context.Context, sessionID, studentID string) error

	// SaveAnalysis persists the validated delta, raw provider output, and
	// attempt metadata, advancing the session to analyzed.
	SaveAnalysis(ctx context.Context, s *Session) error

	// MarkFailed sets status failed with error detail. Attempt metadata is
	// persisted alongside so operators can see what was tried.
	MarkFailed(ctx context.Context, s *Session, detail string) error

	// MarkNeedsReview flags the session for human review, preserving the raw
	// AI payload. The session stays failed.
	MarkNeedsReview(ctx context.Context, s *Session, raw []byte, detail string) error

	// Requeue re-arms a failed session that has a persisted delta, moving it
	// back to analyzed so the applier can retry it. Sessions without a delta
	// are not retryable.
	Requeue(ctx context.Context, id string) (*Session, error)

	// ListByStatus returns sessions in a given status, newest first. The
	// operator surface uses this to find stuck (failed / unapplied) sessions.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Session, error)

	// ListStuckAnalyzed returns sessions that reached analyzed before the
	// given time but were never applied; the retry job re-applies them from
	// the persisted delta.
	ListStuckAnalyzed(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// ListStuckFetched returns sessions that reached fetched before the given
	// time but never advanced (cost-ceiling deferral, crash before analysis);
	// the retry job resumes them from the persisted call data.
	ListStuckFetched(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// HasCompletedSession reports whether the student has at least one
	// applied session. Used for caller classification.
	HasCompletedSession(ctx context.Context, studentID string) (bool, error)
}
