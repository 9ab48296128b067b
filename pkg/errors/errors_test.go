package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrTransport, ErrUnauthorized, ErrSessionExpired, ErrInvalidInput,
		ErrForbidden, ErrNotFound, ErrConflict, ErrServiceUnavail, ErrInternal,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	appErr := &AppError{Code: "TRANSPORT_ERROR", Message: "request failed", Err: inner}
	assert.Contains(t, appErr.Error(), "TRANSPORT_ERROR")
	assert.Contains(t, appErr.Error(), "request failed")
	assert.Contains(t, appErr.Error(), "connection reset")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "post not found"}
	assert.Equal(t, "NOT_FOUND: post not found", appErr.Error())
}

func TestAppError_Unwrap_Nil(t *testing.T) {
	appErr := &AppError{Code: "TEST", Message: "test"}
	assert.Nil(t, appErr.Unwrap())
}

// --- Constructor functions ---

func TestTransport(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := Transport(cause)
	assert.Equal(t, "TRANSPORT_ERROR", err.Code)
	assert.Zero(t, err.Status)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
}

func TestSessionExpired(t *testing.T) {
	cause := fmt.Errorf("refresh rejected")
	err := SessionExpired(cause)
	assert.Equal(t, "SESSION_EXPIRED", err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.Status)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, ErrUnauthorized))

	bare := SessionExpired(nil)
	assert.ErrorIs(t, bare, ErrSessionExpired)
}

func TestUnauthorized(t *testing.T) {
	err := Unauthorized("invalid token")
	assert.Equal(t, "UNAUTHORIZED", err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.Status)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidation(t *testing.T) {
	err := Validation(map[string][]string{
		"username": {"This field is required."},
		"email":    {"Enter a valid email address."},
	})
	assert.Equal(t, "VALIDATION_ERROR", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "email: Enter a valid email address.; username: This field is required.", err.Message)

	wrapped := fmt.Errorf("register: %w", err)
	assert.Equal(t, []string{"This field is required."}, FieldErrors(wrapped)["username"])
	assert.Nil(t, FieldErrors(fmt.Errorf("plain")))
}

func TestNotFound(t *testing.T) {
	err := NotFound("post", "7")
	require.NotNil(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Contains(t, err.Message, "post")
	assert.Contains(t, err.Message, "7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInternal(t *testing.T) {
	inner := fmt.Errorf("panic: boom")
	err := Internal(inner)
	assert.Equal(t, "INTERNAL_ERROR", err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "boom")
}

// --- Wrap ---

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "get post")
	assert.Contains(t, wrapped.Error(), "get post")
	assert.ErrorIs(t, wrapped, ErrNotFound)
}

// --- HTTPStatus ---

func TestHTTPStatus_SentinelErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrSessionExpired, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrServiceUnavail, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatus_AppErrorWithoutStatusFallsBackToSentinel(t *testing.T) {
	err := &AppError{Code: "X", Message: "x", Err: ErrConflict}
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestHTTPStatus_UnknownError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("unknown")))
}
