package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framecap/internal/config"
	apperrors "github.com/zsiec/framecap/internal/errors"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDMiddleware(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	var seen string
	handler := s.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-request-id")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "test-request-id", rr.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	handler := s.corsMiddleware(okHandler)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Location")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/test", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	handler := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrorTypeInternal, resp.Error.Type)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
	s := newTestServer(t, cfg)
	handler := s.rateLimitMiddleware(okHandler)

	request := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, request("/api/v1/frametime", "10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusOK, request("/api/v1/frametime", "10.0.0.1:4001").Code)

	rr := request("/api/v1/frametime", "10.0.0.1:4002")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrorTypeRateLimit, resp.Error.Type)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)

	// Buckets are per client and health checks bypass them.
	assert.Equal(t, http.StatusOK, request("/api/v1/frametime", "10.0.0.2:4000").Code)
	assert.Equal(t, http.StatusOK, request("/live", "10.0.0.1:4000").Code)
}

func TestRateLimitMiddlewareIgnoresForwardedHeaders(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	s := newTestServer(t, cfg)
	handler := s.rateLimitMiddleware(okHandler)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/api/v1/frametime", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{200, 429, 429, 429, 429}, codes)
	assert.Equal(t, 1, s.limiter.size())
}

func TestRateLimitMiddlewareTrustedProxy(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1, TrustProxyHeaders: true}
	s := newTestServer(t, cfg)
	handler := s.rateLimitMiddleware(okHandler)

	request := func(forwardedFor string) int {
		req := httptest.NewRequest("GET", "/api/v1/frametime", nil)
		req.RemoteAddr = "10.0.0.254:8080"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, request("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.1, 10.0.0.254"))
	assert.Equal(t, http.StatusOK, request("203.0.113.2"))
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	handler := s.rateLimitMiddleware(okHandler)

	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/frametime", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	router := mux.NewRouter()
	router.Use(s.metricsMiddleware)
	router.HandleFunc("/api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}).Methods("GET")

	counter := httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/{id}", "202")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/sessions/"+id, nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
}
