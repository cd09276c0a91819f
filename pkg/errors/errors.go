package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeInvariant    ErrorType = "INVARIANT_VIOLATION"

	// Event sourcing errors
	ErrorTypeConcurrencyConflict ErrorType = "CONCURRENCY_CONFLICT"
	ErrorTypeLockTimeout         ErrorType = "LOCK_TIMEOUT"
	ErrorTypeRetriesExhausted    ErrorType = "RETRIES_EXHAUSTED"
	ErrorTypeProjection          ErrorType = "PROJECTION_FAILURE"

	// Application errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
	Retryable  bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewInvariantViolation creates a business rule violation with a stable code.
// It is surfaced unchanged to the caller and never retried.
func NewInvariantViolation(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvariant,
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		StackTrace: captureStackTrace(),
	}
}

// NewConcurrencyConflict reports that a stream advanced past the version a writer loaded
func NewConcurrencyConflict(stream string, expected, actual int) *AppError {
	return &AppError{
		Type:       ErrorTypeConcurrencyConflict,
		Code:       "CONCURRENCY_CONFLICT",
		Message:    fmt.Sprintf("stream %s is at version %d, expected %d", stream, actual, expected),
		Details:    map[string]interface{}{"stream": stream, "expected_version": expected, "actual_version": actual},
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// NewLockTimeout reports that a lock could not be acquired in time
func NewLockTimeout(key string, timeout time.Duration) *AppError {
	return &AppError{
		Type:       ErrorTypeLockTimeout,
		Code:       "LOCK_TIMEOUT",
		Message:    fmt.Sprintf("resource %s is busy, lock not acquired within %s", key, timeout),
		Details:    map[string]interface{}{"lock_key": key, "timeout": timeout.String()},
		HTTPStatus: http.StatusLocked,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// NewRetriesExhausted wraps the last conflict once the retry budget is spent
func NewRetriesExhausted(attempts int, last error) *AppError {
	return &AppError{
		Type:       ErrorTypeRetriesExhausted,
		Code:       "RETRIES_EXHAUSTED",
		Message:    "the resource is being modified concurrently, please try again",
		Details:    map[string]interface{}{"attempts": attempts},
		Cause:      last,
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewProjectionFailure reports a read model that could not apply an event
func NewProjectionFailure(projection, eventID, eventKind string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeProjection,
		Code:       "PROJECTION_FAILED",
		Message:    fmt.Sprintf("projection '%s' failed on event %s (%s)", projection, eventID, eventKind),
		Details:    map[string]interface{}{"projection": projection, "event_id": eventID, "event_kind": eventKind},
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		StackTrace: captureStackTrace(),
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Type:       ErrorTypeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Message:    fmt.Sprintf("external service '%s' error", service),
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsUnauthorized checks if an error is an unauthorized error
func IsUnauthorized(err error) bool {
	return IsType(err, ErrorTypeUnauthorized)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	return IsType(err, ErrorTypeForbidden)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return IsType(err, ErrorTypeInternal)
}

// IsConcurrencyConflict checks if an error is an optimistic concurrency conflict
func IsConcurrencyConflict(err error) bool {
	return IsType(err, ErrorTypeConcurrencyConflict)
}

// IsLockTimeout checks if an error is a lock timeout
func IsLockTimeout(err error) bool {
	return IsType(err, ErrorTypeLockTimeout)
}

// IsInvariantViolation checks if an error is a business rule violation
func IsInvariantViolation(err error) bool {
	return IsType(err, ErrorTypeInvariant)
}

// IsRetriesExhausted checks if an error is a spent retry budget
func IsRetriesExhausted(err error) bool {
	return IsType(err, ErrorTypeRetriesExhausted)
}

// IsProjectionFailure checks if an error is a projection failure
func IsProjectionFailure(err error) bool {
	return IsType(err, ErrorTypeProjection)
}

// IsExpected reports business outcomes that are answers, not incidents.
// These are returned to the caller but never sent to the error sink.
func IsExpected(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeInvariant,
		ErrorTypeUnauthorized, ErrorTypeForbidden:
		return true
	}
	return false
}

// TypeOf returns the error type, INTERNAL for foreign errors
func TypeOf(err error) ErrorType {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// Keep the original type so predicates still match
	if appErr := GetAppError(err); appErr != nil {
		return fmt.Errorf("%s: %w", message, appErr)
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
