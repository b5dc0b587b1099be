// Package apperrors defines the error taxonomy shared by the review engine,
// the cron manager and the HTTP layer.
//
// Use errors.Is to classify: errors.Is(err, apperrors.ErrValidation).
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConcurrency   = errors.New("concurrent modification")
	ErrTaskExecution = errors.New("task execution failed")
)

// Validation returns an error wrapping ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error wrapping ErrNotFound for the given resource.
func NotFound(resource string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, resource, id)
}

// Unauthorized returns an error wrapping ErrUnauthorized.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}

// Concurrency returns an error wrapping ErrConcurrency for the given key.
func Concurrency(key string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrConcurrency, key)
	}
	return fmt.Errorf("%w: %s: %v", ErrConcurrency, key, cause)
}

// TaskExecution wraps a task failure so both ErrTaskExecution and the cause
// are matched by errors.Is.
func TaskExecution(task string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrTaskExecution, task, cause)
}
