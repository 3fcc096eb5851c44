// Package session contains the call-session aggregate. One session row exists
// per processed call; the voice platform's call_id is the idempotency key that
// guarantees at-most-once processing despite webhook retries.
package session

import (
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Status is the processing state of a session. Status advances monotonically:
// received → fetched → analyzed → applied, with failed reachable from any
// non-terminal state.
type Status string

const (
	StatusReceived Status = "received"
	StatusFetched  Status = "fetched"
	StatusAnalyzed Status = "analyzed"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
)

// rank orders statuses for monotonic advancement checks.
func (s Status) rank() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusFetched:
		return 1
	case StatusAnalyzed:
		return 2
	case StatusApplied:
		return 3
	case StatusFailed:
		return 4
	}
	return -1
}

// IsValid reports whether the status is a known value.
func (s Status) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further automatic processing happens.
// Failed sessions are retryable by an operator, not by the pipeline.
func (s Status) IsTerminal() bool {
	return s == StatusApplied || s == StatusFailed
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Applied is final; failed may return to analyzed via operator requeue.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == StatusApplied {
		return false
	}
	if next == StatusFailed {
		return true
	}
	if s == StatusFailed {
		// Operator requeue re-arms a failed session for re-application.
		return next == StatusAnalyzed
	}
	return next.rank() == s.rank()+1
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// ProviderAttempt records one analysis attempt for monitoring. Stored as JSON
// metadata on the session.
type ProviderAttempt struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	LatencyMS int64     `json:"latency_ms"`
	CostUSD   float64   `json:"cost_usd"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Session is one processed (or in-flight) call.
type Session struct {
	ID        string
	CallID    string // voice platform call identifier, unique
	StudentID string // empty until identity resolution

	Status      Status
	ErrorDetail string

	// Call content. Authoritative when DegradedSource is false; webhook
	// fallback data otherwise.
	Transcript      string
	DurationSeconds int
	CustomerNumber  string
	DegradedSource  bool

	// NeedsReview marks sessions whose AI output failed schema validation;
	// the raw payload is preserved in RawAnalysis for a human.
	NeedsReview bool

	// Delta holds the validated delta JSON so a failed apply can be retried
	// without re-invoking the AI provider.
	Delta []byte

	// RawAnalysis preserves the provider's raw response for review paths.
	RawAnalysis []byte

	// Attempts holds per-provider cost/latency metadata.
	Attempts []ProviderAttempt

	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a session in the received state for a call_id.
func New(callID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		CallID:    callID,
		Status:    StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to the next status, enforcing monotonicity.
func (s *Session) Advance(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return shared.NewDomainError("session", "Advance", shared.ErrStateTransition,
			"cannot transition from "+string(s.Status)+" to "+string(next))
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the session failed with detail. Valid from any non-applied state.
func (s *Session) Fail(detail string) error {
	if err := s.Advance(StatusFailed); err != nil {
		return err
	}
	s.ErrorDetail = detail
	return nil
}

// TotalCostUSD sums provider attempt costs for this session.
func (s *Session) TotalCostUSD() float64 {
	var total float64
	for _, a := range s.Attempts {
		total += a.CostUSD
	}
	return total
}
