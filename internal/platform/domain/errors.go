// Package domain holds the error taxonomy shared by every layer of the service.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds, matched with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state transition")
	ErrConflict     = errors.New("conflict")
)

// DomainError is a typed error carrying a kind and a human-readable message.
type DomainError struct {
	Kind    error
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is works on wrapped domain errors.
func (e *DomainError) Unwrap() error {
	return e.Kind
}

// NewValidationError reports malformed input.
func NewValidationError(msg string) error {
	return &DomainError{Kind: ErrValidation, Message: msg}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) error {
	return &DomainError{Kind: ErrNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// NewInvalidStateError reports a disallowed state machine transition.
func NewInvalidStateError(from, to string) error {
	return &DomainError{
		Kind:    ErrInvalidState,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewInvalidOperationError reports an operation that the current state does not permit.
func NewInvalidOperationError(msg string) error {
	return &DomainError{Kind: ErrInvalidState, Message: msg}
}

// NewConflictError reports a concurrent modification.
func NewConflictError(msg string) error {
	return &DomainError{Kind: ErrConflict, Message: msg}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
