// Package shared contains common domain types, errors, events, and value objects
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
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("exclusive lock not acquired")

	// Infrastructure errors
	ErrPersistence        = errors.New("persistence failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "rating", "standings"
	Op      string // Operation that failed, e.g., "Grade", "Rebuild"
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

// Rating domain errors
var (
	ErrLedgerEntryNotFound = NewDomainError("rating", "Find", ErrNotFound, "ledger entry not found")
	ErrInvalidUserID       = NewDomainError("rating", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidGameCode     = NewDomainError("rating", "Validate", ErrEmptyValue, "game code cannot be empty")
	ErrGameNotRankable     = NewDomainError("rating", "Grade", ErrInvalidState, "game mode is not rankable")
	ErrRecalcInProgress    = NewDomainError("rating", "Recalculate", ErrConcurrentModification, "recalculation already in progress for user")

	ErrInvalidParticipation   = NewDomainError("rating", "Validate", ErrInvalidID, "invalid participation ID")
	ErrParticipationNotLinked = NewDomainError("rating", "Link", ErrNotFound, "participation not found or already linked")
)

// Standings domain errors
var (
	ErrSnapshotNotFound   = NewDomainError("standings", "Find", ErrNotFound, "date snapshot not found")
	ErrInvalidDateKey     = NewDomainError("standings", "Validate", ErrInvalidInput, "invalid snapshot date key")
	ErrEmptyStandings     = NewDomainError("standings", "Build", ErrInvalidState, "standings contain no players")
	ErrSnapshotIncomplete = NewDomainError("standings", "Rebuild", ErrInvalidState, "snapshot replace was interrupted")
)
