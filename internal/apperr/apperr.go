// Package apperr defines the error taxonomy shared by the usage, cost and
// organization services. The HTTP layer maps these to status codes.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the credential does not grant access to the
	// claimed organization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited means the admission policy rejected the request.
	ErrRateLimited = errors.New("rate limit exceeded for organization")
)

// ValidationError is a client-fixable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Missing reports an absent required body field.
func Missing(field string) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("Missing required field: %s", field)}
}

// MissingParam reports an absent required query parameter.
func MissingParam(field string) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("Missing required parameter: %s", field)}
}

// Invalid reports a field that is present but malformed.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthenticationError means a presented token could not be tied to the
// claimed organization. Reason is for logs only.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// InternalError wraps a store or unexpected failure. Its message is never
// returned to callers.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Internal wraps err as an InternalError for operation op.
func Internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
