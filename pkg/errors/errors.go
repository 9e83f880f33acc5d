package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Attendance domain errors. Admission rejections reuse these codes in their results.
var (
	ErrStudentNotFound  = New("STUDENT_NOT_FOUND", http.StatusNotFound, "enrollment number not found")
	ErrInvalidSession   = New("INVALID_SESSION", http.StatusBadRequest, "invalid or expired session")
	ErrOutOfRange       = New("OUT_OF_RANGE", http.StatusForbidden, "outside the allowed radius")
	ErrDeviceReuse      = New("DEVICE_REUSE", http.StatusForbidden, "this device has already marked attendance")
	ErrAlreadyMarked    = New("ALREADY_MARKED", http.StatusConflict, "you have already marked attendance")
	ErrSessionConflict  = New("SESSION_CONFLICT", http.StatusConflict, "an active session already exists")
	ErrInfrastructure   = New("INFRASTRUCTURE_ERROR", http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	ErrEditWindowClosed = New("EDIT_WINDOW_CLOSED", http.StatusForbidden, "attendance for this date can no longer be edited")
	ErrRateLimited      = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
)

// Retryable reports whether the failure is transient and the caller may resubmit.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == ErrInfrastructure.Code
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
