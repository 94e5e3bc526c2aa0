// Package dto defines the JSON request and response types of the API and its
// structured errors.
//
// Request types bind path segments and query parameters through the path and
// query struct tags; the JSON body fills the rest. Every request implements
// Validatable.
//
// Errors carry an HTTP status and a machine readable ErrorCode. They are
// serialized as ErrorResponse.
package dto

import (
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode classifies an API error.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeInvalidFormat is returned when a field has an invalid format.
	ErrorCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrorCodeColumnMismatch is returned when a row does not match the table
	// schema.
	ErrorCodeColumnMismatch ErrorCode = "COLUMN_MISMATCH"

	// ErrorCodeNotFound is returned when a database is not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeTableNotFound is returned when a table is not found.
	ErrorCodeTableNotFound ErrorCode = "TABLE_NOT_FOUND"
	// ErrorCodeConflict is returned when a database name is taken.
	ErrorCodeConflict ErrorCode = "CONFLICT"

	// ErrorCodeUnauthorized is returned when credentials are missing or invalid.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeRateLimited is returned when a client exceeded its rate limit.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodePayloadTooLarge is returned when the request body is too large.
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrorCodeStorageError is returned when persisting a change failed.
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails is the error object of an ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is an error that knows how to be served.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is the concrete ErrorWithStatus.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError returns an APIError.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
	}
}

// WithDetails adds details to the error.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any, len(details))
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	return e.WithDetails(map[string]any{key: value})
}

// Wrap records the underlying cause. It is not exposed to clients.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements error.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Message returns the client facing message.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details, possibly nil.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// NotFound returns a 404 for a missing database.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, resource+" not found")
}

// TableNotFound returns a 404 for a missing table.
func TableNotFound(table string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeTableNotFound, "table "+strconv.Quote(table)+" not found")
}

// Conflict returns a 409.
func Conflict(message string) *APIError {
	return NewAPIError(http.StatusConflict, ErrorCodeConflict, message)
}

// BadRequest returns a 400.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField returns a 400 for a missing field.
func MissingField(field string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "Missing required field: "+field)
}

// InvalidFormat returns a 400 for a malformed field.
func InvalidFormat(field, reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeInvalidFormat, "Invalid "+field+": "+reason).WithDetail("field", field)
}

// ColumnMismatch returns a 400 for a row whose length differs from the
// column count.
func ColumnMismatch(want, got int) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeColumnMismatch,
		fmt.Sprintf("expected %d values, got %d", want, got)).
		WithDetails(map[string]any{"expected": want, "got": got})
}

// Unauthorized returns a 401.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, "Unauthorized")
}

// RateLimitExceeded returns a 429.
func RateLimitExceeded(retryAfter time.Duration) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited, "Too many requests").
		WithDetail("retry_after_seconds", int(retryAfter.Round(time.Second).Seconds()))
}

// PayloadTooLarge returns a 413.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "Request body too large").
		WithDetail("max_bytes", limit)
}

// Storage returns a 500 for a failed persistence.
func Storage(err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeStorageError, "failed to persist change").Wrap(err)
}

// Internal returns a 500.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// InternalWithError returns a 500 wrapping err.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}
