// Package query implements the read side of the operator surface: session
// inspection, requeue, and student progress views. No pipeline writes happen
// here except the explicit operator requeue.
package query

import (
	"context"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Reapplier re-runs the atomic apply from a session's persisted delta.
type Reapplier interface {
	Reapply(ctx context.Context, sess *session.Session) (*postgres.ApplyReport, error)
}

// SessionView is the operator-facing shape of a session.
type SessionView struct {
	ID              string                    `json:"id"`
	CallID          string                    `json:"call_id"`
	StudentID       string                    `json:"student_id,omitempty"`
	Status          string                    `json:"status"`
	ErrorDetail     string                    `json:"error_detail,omitempty"`
	DurationSeconds int                       `json:"duration_seconds"`
	DegradedSource  bool                      `json:"degraded_source"`
	NeedsReview     bool                      `json:"needs_review"`
	TotalCostUSD    float64                   `json:"total_cost_usd"`
	Attempts        []session.ProviderAttempt `json:"attempts,omitempty"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	EndedAt         *time.Time                `json:"ended_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// SessionDetail extends SessionView with payloads too large for lists.
type SessionDetail struct {
	SessionView

	Transcript  string `json:"transcript,omitempty"`
	Delta       any    `json:"delta,omitempty"`
	RawAnalysis any    `json:"raw_analysis,omitempty"`
}

// SessionQueryService serves operator session queries.
type SessionQueryService struct {
	sessions  session.Repository
	reapplier Reapplier
	logger    *logger.Logger
}

// NewSessionQueryService creates a SessionQueryService.
func NewSessionQueryService(sessions session.Repository, reapplier Reapplier, log *logger.Logger) *SessionQueryService {
	if log == nil {
		log = logger.Default()
	}
	return &SessionQueryService{
		sessions:  sessions,
		reapplier: reapplier,
		logger:    log.With(logger.Component("session-query")),
	}
}

// ListByStatus returns sessions in a status, newest first.
func (s *SessionQueryService) ListByStatus(ctx context.Context, status string, limit int) ([]*SessionView, error) {
	st := session.Status(status)
	if !st.IsValid() {
		return nil, shared.NewDomainError("session", "List", shared.ErrInvalidInput, "unknown status "+status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sessions, err := s.sessions.ListByStatus(ctx, st, limit)
	if err != nil {
		return nil, err
	}

	views := make([]*SessionView, len(sessions))
	for i, sess := range sessions {
		views[i] = toView(sess)
	}
	return views, nil
}

// Get returns full session detail by id.
func (s *SessionQueryService) Get(ctx context.Context, id string) (*SessionDetail, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toDetail(sess), nil
}

// GetByCallID returns full session detail by the platform call id.
func (s *SessionQueryService) GetByCallID(ctx context.Context, callID string) (*SessionDetail, error) {
	sess, err := s.sessions.GetByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	return toDetail(sess), nil
}

// Reapply requeues a failed session and re-runs the apply from its persisted
// delta. This is the operator recovery path; the AI provider is never
// re-invoked.
func (s *SessionQueryService) Reapply(ctx context.Context, id string) (*postgres.ApplyReport, error) {
	sess, err := s.sessions.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}

	report, err := s.reapplier.Reapply(ctx, sess)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session reapplied by operator",
		logger.SessionID(id),
		logger.CallID(sess.CallID),
	)
	return report, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// View Mapping
// ─────────────────────────────────────────────────────────────────────────────

func toView(sess *session.Session) *SessionView {
	return &SessionView{
		ID:              sess.ID,
		CallID:          sess.CallID,
		StudentID:       sess.StudentID,
		Status:          string(sess.Status),
		ErrorDetail:     sess.ErrorDetail,
		DurationSeconds: sess.DurationSeconds,
		DegradedSource:  sess.DegradedSource,
		NeedsReview:     sess.NeedsReview,
		TotalCostUSD:    sess.TotalCostUSD(),
		Attempts:        sess.Attempts,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
	}
}

func toDetail(sess *session.Session) *SessionDetail {
	detail := &SessionDetail{
		SessionView: *toView(sess),
		Transcript:  sess.Transcript,
	}

	// Delta and raw analysis are stored as JSON; surface them as raw messages
	// so the API returns structured objects, not double-encoded strings.
	if len(sess.Delta) > 0 {
		detail.Delta = jsonRaw(sess.Delta)
	}
	if len(sess.RawAnalysis) > 0 {
		detail.RawAnalysis = jsonRaw(sess.RawAnalysis)
	}
	return detail
}
