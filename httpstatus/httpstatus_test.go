package httpstatus

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hysreader/hys/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzReportsOkByDefault(t *testing.T) {
	srv := New(config.StatusConfig{Addr: ":0"}, nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsUnhealthyOnError(t *testing.T) {
	srv := New(config.StatusConfig{Addr: ":0"}, func() error { return errors.New("boom") }, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := New(config.StatusConfig{Addr: ":0"}, nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	srv := New(config.StatusConfig{Addr: ":0", Auth: &config.AuthConfig{Username: "u", Password: "p"}}, nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthAllowsCorrectCredentials(t *testing.T) {
	srv := New(config.StatusConfig{Addr: ":0", Auth: &config.AuthConfig{Username: "u", Password: "p"}}, nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.SetBasicAuth("u", "p")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
