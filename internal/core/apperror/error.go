// Package apperror defines the coded errors returned across the HTTP
// boundary. Services return *AppError for anything a client should see;
// every other error is reported as an internal failure.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeInternal    = "INTERNAL_ERROR"
	CodeDatabase    = "DATABASE_ERROR"
	CodeUnavailable = "DATABASE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT_ERROR"

	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeDuplicate    = "DUPLICATE_ENTRY"

	CodePlateDiscarded = "PLATE_DISCARDED"
)

// statusByCode holds the HTTP status of every fixed code. Business rule
// codes are not listed and map to 422.
var statusByCode = map[string]int{
	CodeInternal:     http.StatusInternalServerError,
	CodeDatabase:     http.StatusInternalServerError,
	CodeUnavailable:  http.StatusServiceUnavailable,
	CodeTimeout:      http.StatusGatewayTimeout,
	CodeValidation:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeDuplicate:    http.StatusConflict,
}

// AppError is a client-facing error with a machine-readable code.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	HTTPStatus int   `json:"-"`
	Err        error `json:"-"`
}

// New creates an AppError for code. Unknown codes are business rule
// violations.
func New(code, message string) *AppError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to Details.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewValidation reports rejected input (400).
func NewValidation(message string) *AppError {
	return New(CodeValidation, message)
}

// NewNotFound reports a missing entity (404).
func NewNotFound(entity string, id any) *AppError {
	return New(CodeNotFound, entity+" not found").
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// NewBusinessRule reports a violated lab rule under its own code (422).
func NewBusinessRule(code, message string) *AppError {
	e := New(code, message)
	e.HTTPStatus = http.StatusUnprocessableEntity
	return e
}

// NewInternal hides err behind a generic message (500).
func NewInternal(err error) *AppError {
	return New(CodeInternal, "Internal server error").wrap(err)
}

// NewUnauthorized reports failed authentication (401).
func NewUnauthorized(message string) *AppError {
	return New(CodeUnauthorized, message)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == CodeNotFound
}
