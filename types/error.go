package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrProviderError    ErrorCode = "PROVIDER_ERROR"
	ErrDecisionParse    ErrorCode = "DECISION_PARSE"
	ErrPersistence      ErrorCode = "PERSISTENCE"
	ErrConversationGone ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Tool error codes. One code per failure class; the Message carried with
// these codes is safe to surface to the end user verbatim.
const (
	ErrToolTimeout           ErrorCode = "TOOL_TIMEOUT"
	ErrToolPermissionDenied  ErrorCode = "TOOL_PERMISSION_DENIED"
	ErrToolRateLimitExceeded ErrorCode = "TOOL_RATE_LIMIT_EXCEEDED"
	ErrToolValidation        ErrorCode = "TOOL_VALIDATION_ERROR"
	ErrToolExecution         ErrorCode = "TOOL_EXECUTION_ERROR"
	ErrToolNotFound          ErrorCode = "TOOL_NOT_FOUND"
	ErrToolUnknown           ErrorCode = "TOOL_UNKNOWN_ERROR"
)

// Error represents a structured error with code, user-safe message, and metadata.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Retryable bool           `json:"retryable"`
	Cause     error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetails attaches structured details to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithDetail attaches a single detail key to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
