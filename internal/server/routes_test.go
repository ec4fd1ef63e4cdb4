package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framecap/pkg/version"
)

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rr := httptest.NewRecorder()
	s.handleVersion(rr, httptest.NewRequest("GET", "/version", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	var info version.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestWriteJSON(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rr := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	require.NoError(t, s.writeJSON(rr, http.StatusCreated, data))
	assert.Equal(t, http.StatusCreated, rr.Code)

	var result map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, data, result)
}
