// Package errors defines the service error taxonomy and the HTTP error
// envelope. Every failure that crosses a package boundary is either an
// *APIError or gets wrapped into one at the transport edge.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an error category. The string form is what appears in
// the response envelope's "error" field.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindRateLimited     Kind = "RateLimited"
	KindPayloadTooLarge Kind = "PayloadTooLarge"
	KindInternal        Kind = "InternalError"
	KindUnauthorized    Kind = "Unauthorized"
)

// statusOf maps a kind to its canonical HTTP status code.
func statusOf(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// APIError is a typed error carrying its taxonomy kind and HTTP status.
type APIError struct {
	Kind       Kind        `json:"error"`
	StatusCode int         `json:"-"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// New creates an APIError of the given kind with its canonical status.
func New(kind Kind, message string) *APIError {
	return &APIError{Kind: kind, StatusCode: statusOf(kind), Message: message}
}

// NewWithDetails creates an APIError carrying a details payload.
func NewWithDetails(kind Kind, message string, details interface{}) *APIError {
	e := New(kind, message)
	e.Details = details
	return e
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) *APIError {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Unprocessablef creates a ValidationError rendered with status 422,
// used for structurally invalid request bodies.
func Unprocessablef(format string, args ...interface{}) *APIError {
	e := New(KindValidation, fmt.Sprintf(format, args...))
	e.StatusCode = http.StatusUnprocessableEntity
	return e
}

// NotFoundf creates a NotFound error with a formatted message.
func NotFoundf(format string, args ...interface{}) *APIError {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflictf creates a Conflict error with a formatted message.
func Conflictf(format string, args ...interface{}) *APIError {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// Internalf creates an InternalError with a formatted message.
func Internalf(format string, args ...interface{}) *APIError {
	return New(KindInternal, fmt.Sprintf(format, args...))
}

// Unauthorized is returned when the configured API key is missing or wrong.
var Unauthorized = New(KindUnauthorized, "Invalid or missing API key")

// RateLimited is returned when a client exceeds its request budget.
var RateLimited = New(KindRateLimited, "Rate limit exceeded")

// PayloadTooLargef creates a PayloadTooLarge error with a formatted message.
func PayloadTooLargef(format string, args ...interface{}) *APIError {
	return New(KindPayloadTooLarge, fmt.Sprintf(format, args...))
}

// AsAPIError extracts an *APIError from an error chain. Unrecognized errors
// become InternalError so no raw error text ever reaches a client unmapped.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return New(KindInternal, "An unexpected error occurred")
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
