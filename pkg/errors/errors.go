package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Standard sentinel errors for the client error taxonomy.
var (
	ErrTransport      = errors.New("transport error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrInternal       = errors.New("internal error")
)

// AppError represents a structured error with HTTP status mapping.
// Fields carries per-field validation messages when the server sent them.
type AppError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Status  int                 `json:"-"`
	Err     error               `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Transport creates an error for a request that never produced a response.
func Transport(err error) *AppError {
	return &AppError{
		Code:    "TRANSPORT_ERROR",
		Message: "request failed before a response was received",
		Err:     errors.Join(ErrTransport, err),
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// SessionExpired creates the error returned once the session can no longer be refreshed.
// cause may be nil.
func SessionExpired(cause error) *AppError {
	err := ErrSessionExpired
	if cause != nil {
		err = errors.Join(ErrSessionExpired, cause)
	}
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: "session expired, log in again",
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Validation creates a 400 error carrying field messages, as returned by the API for
// rejected form submissions.
func Validation(fields map[string][]string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: summarize(fields),
		Fields:  fields,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrInternal, err),
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FieldErrors returns the per-field validation messages carried by err, if any.
func FieldErrors(err error) map[string][]string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}

func summarize(fields map[string][]string) string {
	if len(fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(fields[name], " ")))
	}
	return strings.Join(parts, "; ")
}
