// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrBudgetExhausted    = errors.New("budget exhausted")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "student", "session", "analysis"
	Op      string // Operation that failed, e.g., "Resolve", "Apply"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Webhook edge errors
var (
	ErrSignatureInvalid   = NewDomainError("webhook", "Verify", ErrUnauthorized, "webhook signature invalid")
	ErrUnparseablePayload = NewDomainError("webhook", "Parse", ErrInvalidFormat, "webhook payload is not valid JSON")
)

// Student domain errors
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidPhoneNumber   = NewDomainError("student", "Normalize", ErrInvalidFormat, "phone number cannot be normalized")
	ErrIdentityAmbiguous    = NewDomainError("student", "Resolve", ErrConcurrentModification, "phone maps to conflicting students")
)

// Session domain errors
var (
	ErrSessionNotFound         = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionAlreadyProcessed = NewDomainError("session", "Apply", ErrAlreadyProcessed, "session already applied")
	ErrSessionNotRetryable     = NewDomainError("session", "Reapply", ErrInvalidState, "session has no persisted delta to reapply")
)

// Call data errors
var (
	ErrCallFetchFailed = NewDomainError("voice", "FetchCall", ErrExternalService, "authoritative call fetch failed")
	ErrCallNotFound    = NewDomainError("voice", "FetchCall", ErrNotFound, "call not found on voice platform")
)

// Analysis errors
var (
	ErrAllProvidersFailed = NewDomainError("analysis", "Analyze", ErrServiceUnavailable, "all analysis providers failed")
	ErrSchemaValidation   = NewDomainError("analysis", "Extract", ErrInvalidFormat, "analysis response failed schema validation")
	ErrCostCeilingReached = NewDomainError("analysis", "Analyze", ErrBudgetExhausted, "daily analysis cost ceiling reached")
)

// Curriculum errors
var (
	ErrGoalNotFound = NewDomainError("curriculum", "FindGoal", ErrNotFound, "curriculum goal not found")
	ErrKCNotFound   = NewDomainError("curriculum", "FindKC", ErrNotFound, "knowledge component not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsRetryable checks if the operation can be retried automatically.
// Structural errors (bad signature, malformed AI output) are never retryable;
// they are routed to the operator review queue instead.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
