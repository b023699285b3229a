// Package common defines shared constants and sentinel errors used across
// the passkeeper server layers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrStorage    = errors.New("storage error")
	ErrConflict   = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrValidation     = errors.New("validation error")

	// Auth errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError carries every rule a request violated. The problems are
// user-facing and are joined into a single message.
type ValidationError struct {
	Problems []string
}

// NewValidationError returns a *ValidationError for the given problems.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Is reports ErrValidation so callers can match the kind without a type assertion.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps a failure reported by the database layer.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err with the operation name. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("db error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
