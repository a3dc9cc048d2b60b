// Package apperrors defines the error taxonomy shared by every taskguard
// package. Callers compare with errors.Is against the sentinels below.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the referenced task, organization or user does not exist,
	// or exists outside the caller's accessible organizations.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means a policy predicate evaluated false.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation means malformed input was rejected before any query ran.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized means no authenticated identity was presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuditWrite means the audit store rejected a write.
	ErrAuditWrite = errors.New("audit write failed")
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level problems. It unwraps to ErrValidation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// OrNil returns e when it holds errors, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
