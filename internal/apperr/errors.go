// Package apperr provides the coded error type shared by every layer of the
// approvals service. Handlers map codes to HTTP statuses; services use them to
// distinguish user-facing failures from storage faults.
package apperr

import (
	"errors"
	"fmt"
)

// ErrCode classifies an error for transport mapping and retry decisions.
type ErrCode string

const (
	ErrCodeInvalidInput ErrCode = "invalid_input"
	ErrCodeNotFound     ErrCode = "not_found"
	ErrCodeConflict     ErrCode = "conflict"
	ErrCodeConcurrency  ErrCode = "concurrency_error"
	ErrCodeUnauthorized ErrCode = "unauthorized"
	ErrCodeInternal     ErrCode = "internal"
)

// Error is a coded application error with an optional wrapped cause.
type Error struct {
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a resource does not exist.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Conflict reports a state conflict (e.g. acting on a terminal workflow).
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Concurrency reports a lost optimistic-concurrency race. Callers must not
// retry blindly; the next natural read or trigger reconciles state.
func Concurrency(message string) *Error {
	return &Error{Code: ErrCodeConcurrency, Message: message}
}

// Code extracts the ErrCode from err, or ErrCodeInternal when err carries none.
func Code(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrCode) bool {
	return Code(err) == code
}
