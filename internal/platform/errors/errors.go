// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates resource conflict (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeTooLarge indicates an oversized request body (HTTP 413)
	TypeTooLarge ErrorType = "too_large"
	// TypeMisdirected indicates a request that reached an instance not owning the target (HTTP 421)
	TypeMisdirected ErrorType = "misdirected"
	// TypeRateLimited indicates a client over its request budget (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates external service error (HTTP 502)
	TypeExternal ErrorType = "external"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

var statusByType = map[ErrorType]int{
	TypeValidation:  http.StatusBadRequest,
	TypeNotFound:    http.StatusNotFound,
	TypeConflict:    http.StatusConflict,
	TypeTooLarge:    http.StatusRequestEntityTooLarge,
	TypeMisdirected: http.StatusMisdirectedRequest,
	TypeRateLimited: http.StatusTooManyRequests,
	TypeInternal:    http.StatusInternalServerError,
	TypeExternal:    http.StatusBadGateway,
}

// HTTPStatus maps the error type to a response code. Unknown types answer 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: map[string]any{}}
}

// Constructors, one per ErrorType. Only server-side types carry a cause.

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error { return newError(TypeConflict, message, nil) }
func TooLargeError(message string) *Error { return newError(TypeTooLarge, message, nil) }
func RateLimitedError(message string) *Error { return newError(TypeRateLimited, message, nil) }

func MisdirectedError(message string, cause error) *Error {
	return newError(TypeMisdirected, message, cause)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
