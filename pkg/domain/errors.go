package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials is the only failure authentication reports.
	// It must not reveal whether the username exists.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrNotFound        = errors.New("not found")
	ErrWrongOwner      = errors.New("record belongs to another account")
	ErrAlreadyTerminal = errors.New("record is already completed or deleted")

	// ErrAuthenticationRequired is returned by the session gate when a
	// protected operation is attempted without an identity.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence matches every *PersistenceError via errors.Is.
	ErrPersistence = errors.New("persistence unavailable")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps a backend failure (connection lost, timeout, ...).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps err as a PersistenceError. A nil err stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
