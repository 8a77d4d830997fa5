// Package shared contains common domain types, errors, and events
// that are used across all domain packages. This package has zero external dependencies.
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

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// Infrastructure errors
	ErrStorage            = errors.New("storage error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "student", "journey", "engagement"
	Op      string // Operation that failed, e.g., "Find", "CreateProgress"
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

// Student domain errors
var (
	ErrStudentNotFound = NewDomainError("student", "Find", ErrNotFound, "student not found")
)

// Journey domain errors
var (
	ErrStageNotFound        = NewDomainError("journey", "ResolveStage", ErrNotFound, "stage not found")
	ErrProgressNotFound     = NewDomainError("journey", "FindProgress", ErrNotFound, "stage progress not found")
	ErrProgressExists       = NewDomainError("journey", "CreateProgress", ErrAlreadyExists, "stage progress already exists")
	ErrJourneyNotFound      = NewDomainError("journey", "FindJourney", ErrNotFound, "onboarding journey not found")
	ErrJourneyLockContended = NewDomainError("journey", "Lock", ErrLockNotAcquired, "student journey is locked by another event")
)

// Engagement domain errors
var (
	ErrEngagementStateNotFound = NewDomainError("engagement", "FindEngagement", ErrNotFound, "engagement state not found")
	ErrLearningStateNotFound   = NewDomainError("engagement", "FindLearning", ErrNotFound, "learning state not found")
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
		errors.Is(err, ErrEmptyValue)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotAcquired)
}
