// Package apperrors provides structured application errors with HTTP status
// mapping and user-facing message descriptors for export failures.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInternal          = errors.New("internal error")
	ErrEstimatorRejected = errors.New("estimator rejected")
	ErrInvalidFormat     = errors.New("invalid output format")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "resource.name")
	Op       string // Operation that failed (e.g., "wps.executeProcess")
	Code     string // Export failure code, see descriptor.go
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel and the cause so errors.Is() classifies both
// the domain category and underlying failures like context cancellation.
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

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// EstimatorRejected creates a pre-flight rejection error. These surface as
// dialog-level failures and never produce a ledger entry.
func EstimatorRejected(reason string) error {
	if reason == "" {
		reason = "download estimator rejected the request"
	}
	return &Error{
		Sentinel: ErrEstimatorRejected,
		Message:  reason,
	}
}

// InvalidFormat creates a synchronous-download failure. These surface as
// dialog-level failures after the retry with a default sort is exhausted.
func InvalidFormat(op string, cause error) error {
	return &Error{
		Sentinel: ErrInvalidFormat,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Export creates an export failure carrying a known failure code. The code
// selects the user-facing message descriptor, see DescriptorFor.
func Export(code, op string, cause error) error {
	msg := code
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", code, cause)
	}
	return &Error{
		Sentinel: ErrInternal,
		Message:  msg,
		Op:       op,
		Code:     code,
		Cause:    cause,
	}
}

// CodeOf extracts the export failure code from an error, or "" if the error
// carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
