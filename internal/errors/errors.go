// Package errors provides the error-code taxonomy used by the sync engine to
// decide whether a failure is retryable, terminal or needs review.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for the retry policy.
type Code string

const (
	// CodeValidation marks a malformed payload. Fatal for the attempt, never
	// retried within it, but still consumes a retry slot so a permanently
	// malformed payload reaches a terminal state instead of looping.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeTransient marks timeouts, connectivity loss and 5xx-equivalent
	// remote failures. Retried with backoff.
	CodeTransient Code = "TRANSIENT_ERROR"

	// CodeConflict marks divergent local/remote versions of a record.
	CodeConflict Code = "SYNC_CONFLICT"

	// CodeNotFound marks a missing remote record.
	CodeNotFound Code = "NOT_FOUND"

	// CodeTerminal marks an operation whose retry ceiling is exhausted. The
	// item stays in the store with this code recorded.
	CodeTerminal Code = "RETRIES_EXHAUSTED"

	// CodeStore marks a local store failure.
	CodeStore Code = "STORE_ERROR"

	// CodeInternal is the fallback classification.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is an application error carrying a classification code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new classified error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a classification code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the classification of err. Unclassified errors are treated
// as internal.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether the retry policy may reattempt the failed
// call. Only transient failures qualify; validation and structural remote
// errors are immediately terminal for the operation, and unclassified errors
// are retried on the assumption they came from the network path.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransient, CodeInternal:
		return true
	default:
		return false
	}
}
