// Package apperrors provides the structured errors returned by the dataset client.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrTransport  = errors.New("transport error")
	ErrService    = errors.New("service error")
	ErrNotFound   = fmt.Errorf("%w: not found", ErrService)
	ErrProtocol   = errors.New("protocol error")
	ErrTimeout    = errors.New("timeout")
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error         // Wrapped sentinel for errors.Is() classification
	Message    string        // Human-readable message
	Field      string        // For validation errors (e.g., "template.plugin")
	Resource   string        // For not found errors (e.g., "export")
	ID         string        // Export or template identifier involved
	Op         string        // Operation that failed (e.g., "exports.get")
	StatusCode int           // HTTP status for service errors
	Body       string        // Response body for service errors
	Elapsed    time.Duration // Time spent before a timeout fired
	Cause      error         // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel, and the cause when there is one.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// Transport creates an error for a request that never produced a response.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Service creates an error for a non-2xx response.
func Service(op string, statusCode int, body string) error {
	return &Error{
		Sentinel:   ErrService,
		Message:    fmt.Sprintf("%s: service returned %d: %s", op, statusCode, truncate(body)),
		Op:         op,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NotFound creates a not found error for a lookup by id.
func NotFound(op, resource, id, body string) error {
	return &Error{
		Sentinel:   ErrNotFound,
		Message:    fmt.Sprintf("%s %s not found", resource, id),
		Resource:   resource,
		ID:         id,
		Op:         op,
		StatusCode: 404,
		Body:       body,
	}
}

// Protocol creates an error for a 2xx response with an unexpected body.
func Protocol(op, message string, cause error) error {
	msg := fmt.Sprintf("%s: %s", op, message)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Sentinel: ErrProtocol,
		Message:  msg,
		Op:       op,
		Cause:    cause,
	}
}

// Timeout creates an error for an export that did not finish before its deadline.
func Timeout(id string, elapsed time.Duration) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("export %s did not complete within %s", id, elapsed.Round(time.Millisecond)),
		Resource: "export",
		ID:       id,
		Elapsed:  elapsed,
	}
}

const maxBodyInMessage = 256

func truncate(body string) string {
	if len(body) <= maxBodyInMessage {
		return body
	}
	return body[:maxBodyInMessage] + "..."
}
