// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrDependency = errors.New("dependency error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "batch[2]")
	Resource string // For not found (e.g., "sandbox", "artifact")
	Op       string // Collaborator call that failed (e.g., "store.put")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
// The cause is reachable through the Cause field only, so a wrapped
// collaborator not-found never reclassifies a dependency failure.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
// Absence is an expected outcome for sandboxes and artifacts; callers branch on it.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Dependency creates an error for a failed call into the object store or
// sandbox runner.
func Dependency(op string, cause error) error {
	return &Error{
		Sentinel: ErrDependency,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsNotFound reports whether err signals an absent sandbox or artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
