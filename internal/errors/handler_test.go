package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() *ErrorHandler {
	logger := logrus.New()
	logger.SetOutput(&discard{})
	return NewErrorHandler(logger)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleError(t *testing.T) {
	handler := newTestHandler()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   ErrorType
		expectedMsg    string
	}{
		{
			name:           "AppError",
			err:            NewValidationError("invalid input"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
			expectedMsg:    "invalid input",
		},
		{
			name:           "Standard error is hidden",
			err:            errors.New("dial tcp 10.0.0.1:6379: refused"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeInternal,
			expectedMsg:    "An unexpected error occurred",
		},
		{
			name:           "Not found error",
			err:            NewNotFoundError("session"),
			expectedStatus: http.StatusNotFound,
			expectedType:   ErrorTypeNotFound,
			expectedMsg:    "session not found",
		},
		{
			name:           "Rate limit",
			err:            NewRateLimitError("slow down"),
			expectedStatus: http.StatusTooManyRequests,
			expectedType:   ErrorTypeRateLimit,
			expectedMsg:    "slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Request-ID", "test-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

			assert.Equal(t, tt.expectedType, response.Error.Type)
			assert.Equal(t, tt.expectedMsg, response.Error.Message)
			assert.Equal(t, "test-123", response.TraceID)
		})
	}
}

func TestHandleNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler().HandleNotFound(rr, httptest.NewRequest("GET", "/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, ErrorTypeNotFound, response.Error.Type)
	assert.Contains(t, response.Error.Message, "endpoint")
}

func TestHandleMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler().HandleMethodNotAllowed(rr, httptest.NewRequest("POST", "/version", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, ErrorTypeValidation, response.Error.Type)
}

func TestHandlePanic(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler().HandlePanic(rr, httptest.NewRequest("GET", "/panic", nil), "test panic")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, ErrorTypeInternal, response.Error.Type)
	assert.Contains(t, response.Error.Message, "unexpected error")
}
