// Package student contains the student aggregate: durable identity, the
// phone-number mapping used to resolve callers, append-only profile history,
// and the scoped memory store.
package student

import (
	"strings"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// CreationSource records how a student record came to exist.
type CreationSource string

const (
	// CreatedByAdmin means an administrator entered the student manually.
	CreatedByAdmin CreationSource = "admin"

	// CreatedByResolver means the identity resolver auto-provisioned the
	// student on first contact from an unseen phone number.
	CreatedByResolver CreationSource = "auto_provision"
)

// Student is a durable student identity. At most one student exists per
// normalized phone number; the phone_mappings table enforces this.
type Student struct {
	ID          string
	DisplayName string
	GradeLevel  int
	PhoneNumber string // normalized canonical form
	CreatedVia  CreationSource
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewAutoProvisioned creates a student for a caller that has never been seen
// before. The display name is a placeholder derived from the phone suffix so
// operators can tell auto-provisioned records apart until the analysis
// pipeline learns the student's real name.
func NewAutoProvisioned(normalizedPhone, placeholderPrefix string) *Student {
	now := time.Now().UTC()
	return &Student{
		ID:          uuid.New().String(),
		DisplayName: placeholderPrefix + " " + phoneSuffix(normalizedPhone),
		PhoneNumber: normalizedPhone,
		CreatedVia:  CreatedByResolver,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasPlaceholderName reports whether the display name is still the
// auto-generated placeholder and is therefore safe to overwrite with a name
// asserted by an analysis delta. The prefix is configuration, not inferred.
func (s *Student) HasPlaceholderName(placeholderPrefix string) bool {
	return strings.HasPrefix(s.DisplayName, placeholderPrefix)
}

// Validate checks entity invariants.
func (s *Student) Validate() error {
	if s.ID == "" {
		return shared.NewDomainError("student", "Validate", shared.ErrInvalidID, "empty student id")
	}
	if s.DisplayName == "" {
		return shared.NewDomainError("student", "Validate", shared.ErrEmptyValue, "empty display name")
	}
	if s.PhoneNumber != "" && !IsNormalized(s.PhoneNumber) {
		return shared.NewDomainError("student", "Validate", shared.ErrInvalidFormat, "phone number is not in normalized form")
	}
	return nil
}

// phoneSuffix returns the last four digits of a phone number, or the whole
// number when it is shorter than that.
func phoneSuffix(phone string) string {
	digits := strings.TrimLeft(phone, "+")
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// ══════════════════════════════════════════════════════════════════════════════
// PHONE MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// PhoneMapping maps a normalized phone number to a student. It is persisted
// separately from Student so one student can keep historical numbers, and so
// the resolver's hot lookup is a single indexed read. The normalized_phone
// unique constraint is the single point of conflict resolution for concurrent
// first-contact calls.
type PhoneMapping struct {
	NormalizedPhone string
	StudentID       string
	CreatedAt       time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLER CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Classification tells the prompt selector what kind of caller this is.
type Classification string

const (
	// ClassificationNew means the resolver just provisioned this student, or
	// the student has no prior completed session.
	ClassificationNew Classification = "new"

	// ClassificationKnown means the student has at least one completed session.
	ClassificationKnown Classification = "known"

	// ClassificationUnknown means resolution state could not be determined;
	// the selector falls back to the general tutoring template.
	ClassificationUnknown Classification = "unknown"
)
