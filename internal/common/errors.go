// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig   = errors.New("missing configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrUnknownCategory = errors.New("unknown category")
	ErrDuplicateRule   = errors.New("rule already exists")

	// Fallback service errors.
	ErrFallbackUnavailable = errors.New("fallback service unavailable")
	ErrInvalidSuggestion   = errors.New("suggestion outside category allow-list")
)

// RowError reports a malformed input row. Row errors never abort a
// batch; callers collect them and keep going.
type RowError struct {
	Err error
	Row int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// NewRowError creates a per-row input error.
func NewRowError(row int, err error) *RowError {
	return &RowError{Row: row, Err: err}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrFallbackUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
