package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("New creates error correctly", func(t *testing.T) {
		err := New(ErrorTypeValidation, "fps must be positive", http.StatusBadRequest)

		assert.Equal(t, ErrorTypeValidation, err.Type)
		assert.Equal(t, "fps must be positive", err.Message)
		assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
		assert.Equal(t, "VALIDATION_ERROR: fps must be positive", err.Error())
	})

	t.Run("Wrap wraps error correctly", func(t *testing.T) {
		originalErr := errors.New("redis: connection refused")
		err := Wrap(originalErr, ErrorTypeInternal, "Failed to load session", http.StatusInternalServerError)

		assert.Equal(t, originalErr, err.Unwrap())
		assert.True(t, errors.Is(err, originalErr))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithDetails and WithCode", func(t *testing.T) {
		details := map[string]interface{}{"field": "fps"}
		err := NewValidationError("bad fps").WithDetails(details).WithCode("INVALID_FPS")

		assert.Equal(t, details, err.Details)
		assert.Equal(t, "INVALID_FPS", err.Code)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"NewValidationError", NewValidationError("Invalid field"), ErrorTypeValidation, http.StatusBadRequest},
		{"NewNotFoundError", NewNotFoundError("session"), ErrorTypeNotFound, http.StatusNotFound},
		{"NewInternalError", NewInternalError("Server error"), ErrorTypeInternal, http.StatusInternalServerError},
		{"NewConflictError", NewConflictError("Picture limit reached"), ErrorTypeConflict, http.StatusConflict},
		{"NewRateLimitError", NewRateLimitError("Too many requests"), ErrorTypeRateLimit, http.StatusTooManyRequests},
		{"NewServiceDownError", NewServiceDownError("redis"), ErrorTypeServiceDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
			assert.NotEmpty(t, tt.err.Message)
		})
	}

	assert.Equal(t, "session not found", NewNotFoundError("session").Message)
}

func TestGetAppError(t *testing.T) {
	t.Run("extracts AppError successfully", func(t *testing.T) {
		originalErr := NewValidationError("test")
		appErr, ok := GetAppError(originalErr)

		assert.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})

	t.Run("extracts wrapped AppError", func(t *testing.T) {
		inner := NewNotFoundError("picture")
		appErr, ok := GetAppError(fmt.Errorf("remove: %w", inner))

		assert.True(t, ok)
		assert.Same(t, inner, appErr)
		assert.True(t, IsAppError(fmt.Errorf("remove: %w", inner)))
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		appErr, ok := GetAppError(errors.New("standard error"))

		assert.False(t, ok)
		assert.Nil(t, appErr)
		assert.False(t, IsAppError(errors.New("standard error")))
	})
}
