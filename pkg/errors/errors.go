// Package errors provides structured error handling for GlucoSync
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors (permanent 4xx, malformed requests)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRateLimit represents rate limit errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection and 5xx errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential errors (bad login, 403)
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeSessionExpired represents a 401 on a previously valid session
	ErrorTypeSessionExpired ErrorType = "session_expired"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents unexpected payload shapes
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCancelled represents cooperative cancellation during shutdown
	ErrorTypeCancelled ErrorType = "cancelled"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// FromHTTPStatus classifies a non-2xx provider response.
// 401 is a session problem worth one re-authentication; 403 and other
// 4xx are permanent for the current credentials or request.
func FromHTTPStatus(status int, message string) *Error {
	var errType ErrorType
	switch {
	case status == http.StatusUnauthorized:
		errType = ErrorTypeSessionExpired
	case status == http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case status == http.StatusRequestTimeout:
		errType = ErrorTypeTimeout
	case status >= 500:
		errType = ErrorTypeConnection
	case status >= 400:
		errType = ErrorTypeValidation
	default:
		errType = ErrorTypeInternal
	}

	e := New(errType, message)
	e.Stack = captureStack(2)
	return e.WithDetail("status_code", status)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var e *Error
	if !errors.As(err, &e) {
		// Unclassified network errors from the transport are worth a retry.
		var netErr interface{ Timeout() bool }
		return errors.As(err, &netErr)
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsAuthFailure returns true for non-retryable credential errors
func IsAuthFailure(err error) bool {
	return IsType(err, ErrorTypeAuthentication)
}

// IsSessionExpired returns true for a 401 observed mid-operation
func IsSessionExpired(err error) bool {
	return IsType(err, ErrorTypeSessionExpired)
}

// IsCancelled returns true for cooperative cancellation
func IsCancelled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return IsType(err, ErrorTypeCancelled)
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
