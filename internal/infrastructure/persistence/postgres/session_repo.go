// Package postgres implements the PostgreSQL persistence layer for Voice Tutor Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `
	id, call_id, student_id, status, error_detail,
	transcript, duration_seconds, customer_number, degraded_source, needs_review,
	delta, raw_analysis, attempts, started_at, ended_at, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Creation & Lookup
// ─────────────────────────────────────────────────────────────────────────────

// CreateOrGet inserts a session for the call_id, or returns the existing one.
// The call_id unique constraint is the dedupe point: concurrent webhook
// deliveries for the same call collapse onto one row, and exactly one caller
// sees created=true.
func (r *SessionRepository) CreateOrGet(ctx context.Context, callID string) (*session.Session, bool, error) {
	s := session.New(callID)

	result, err := r.conn.Exec(ctx, `
		INSERT INTO sessions (id, call_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id) DO NOTHING
	`, s.ID, s.CallID, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert session: %w", err)
	}

	if result.RowsAffected() == 1 {
		return s, true, nil
	}

	existing, err := r.GetByCallID(ctx, callID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByCallID returns the session for a call_id.
func (r *SessionRepository) GetByCallID(ctx context.Context, callID string) (*session.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE call_id = $1"

	row := r.conn.QueryRow(ctx, query, callID)
	return scanSession(row)
}

// GetByID returns a session by its row id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*session.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE id = $1"

	row := r.conn.QueryRow(ctx, query, id)
	return scanSession(row)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline Writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveCallData records call content and advances the session to fetched.
func (r *SessionRepository) SaveCallData(ctx context.Context, s *session.Session) error {
	query := `
		UPDATE sessions SET
			status = $1,
			transcript = $2,
			duration_seconds = $3,
			customer_number = $4,
			degraded_source = $5,
			started_at = $6,
			ended_at = $7,
			updated_at = $8
		WHERE id = $9
	`

	result, err := r.conn.Exec(ctx, query,
		string(s.Status),
		s.Transcript,
		s.DurationSeconds,
		s.CustomerNumber,
		s.DegradedSource,
		s.StartedAt,
		s.EndedAt,
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save call data: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// AttachStudent links a resolved student to the session.
func (r *SessionRepository) AttachStudent(ctx context.Context, sessionID, studentID string) error {
	result, err := r.conn.Exec(ctx, `
		UPDATE sessions SET student_id = $1, updated_at = $2 WHERE id = $3
	`, studentID, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to attach student: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// SaveAnalysis persists the validated delta, raw provider output, and attempt
// metadata, advancing the session to analyzed.
func (r *SessionRepository) SaveAnalysis(ctx context.Context, s *session.Session) error {
	attemptsJSON, err := marshalAttempts(s.Attempts)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions SET
			status = $1,
			delta = $2,
			raw_analysis = $3,
			attempts = $4,
			updated_at = $5
		WHERE id = $6
	`

	result, err := r.conn.Exec(ctx, query,
		string(s.Status),
		s.Delta,
		s.RawAnalysis,
		attemptsJSON,
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// MarkFailed sets status failed with error detail, persisting attempt metadata
// so operators can see what was tried.
func (r *SessionRepository) MarkFailed(ctx context.Context, s *session.Session, detail string) error {
	attemptsJSON, err := marshalAttempts(s.Attempts)
	if err != nil {
		return err
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE sessions SET
			status = $1,
			error_detail = $2,
			attempts = $3,
			updated_at = $4
		WHERE id = $5
	`, string(session.StatusFailed), detail, attemptsJSON, time.Now().UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// MarkNeedsReview flags the session for human review, preserving the raw AI
// payload. The session ends up failed.
func (r *SessionRepository) MarkNeedsReview(ctx context.Context, s *session.Session, raw []byte, detail string) error {
	attemptsJSON, err := marshalAttempts(s.Attempts)
	if err != nil {
		return err
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE sessions SET
			status = $1,
			needs_review = TRUE,
			raw_analysis = $2,
			error_detail = $3,
			attempts = $4,
			updated_at = $5
		WHERE id = $6
	`, string(session.StatusFailed), raw, detail, attemptsJSON, time.Now().UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to mark session for review: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// Requeue re-arms a failed session for re-application. Only failed sessions
// holding a persisted delta qualify; the applier re-runs from that delta
// without another AI invocation.
func (r *SessionRepository) Requeue(ctx context.Context, id string) (*session.Session, error) {
	result, err := r.conn.Exec(ctx, `
		UPDATE sessions SET
			status = $1,
			needs_review = FALSE,
			error_detail = '',
			updated_at = $2
		WHERE id = $3 AND status = $4 AND delta IS NOT NULL
	`, string(session.StatusAnalyzed), time.Now().UTC(), id, string(session.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to requeue session: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish a missing session from one that cannot be retried.
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, shared.ErrSessionNotRetryable
	}

	return r.GetByID(ctx, id)
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListByStatus returns sessions in a given status, newest first.
func (r *SessionRepository) ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error) {
	query := "SELECT " + sessionColumns + `
		FROM sessions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by status: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// ListStuckAnalyzed returns sessions that reached analyzed before the given
// time but were never applied.
func (r *SessionRepository) ListStuckAnalyzed(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	query := "SELECT " + sessionColumns + `
		FROM sessions
		WHERE status = 'analyzed' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// ListStuckFetched returns sessions that reached fetched before the given
// time but never advanced to analyzed.
func (r *SessionRepository) ListStuckFetched(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	query := "SELECT " + sessionColumns + `
		FROM sessions
		WHERE status = 'fetched' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// HasCompletedSession reports whether the student has at least one applied
// session.
func (r *SessionRepository) HasCompletedSession(ctx context.Context, studentID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM sessions WHERE student_id = $1 AND status = 'applied')
	`, studentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed sessions: %w", err)
	}
	return exists, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanSession scans a single session from a row.
func scanSession(row pgx.Row) (*session.Session, error) {
	s, err := scanSessionFields(row.Scan)

	if IsNoRows(err) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	return s, nil
}

// scanSessions scans multiple sessions from rows.
func scanSessions(rows pgx.Rows) ([]*session.Session, error) {
	var sessions []*session.Session

	for rows.Next() {
		s, err := scanSessionFields(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return sessions, nil
}

// scanSessionFields scans session columns through the given scan function.
func scanSessionFields(scan func(dest ...any) error) (*session.Session, error) {
	var s session.Session
	var studentID *string
	var status string
	var attemptsJSON []byte

	err := scan(
		&s.ID,
		&s.CallID,
		&studentID,
		&status,
		&s.ErrorDetail,
		&s.Transcript,
		&s.DurationSeconds,
		&s.CustomerNumber,
		&s.DegradedSource,
		&s.NeedsReview,
		&s.Delta,
		&s.RawAnalysis,
		&attemptsJSON,
		&s.StartedAt,
		&s.EndedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if studentID != nil {
		s.StudentID = *studentID
	}
	s.Status = session.Status(status)

	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &s.Attempts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempts: %w", err)
		}
	}

	return &s, nil
}

// marshalAttempts serializes attempt metadata for the attempts column.
func marshalAttempts(attempts []session.ProviderAttempt) ([]byte, error) {
	if attempts == nil {
		attempts = []session.ProviderAttempt{}
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attempts: %w", err)
	}
	return data, nil
}
