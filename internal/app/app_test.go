package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func TestLoadConfigDefaultsAndLists(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://pos.local,http://admin.local")
	t.Setenv("BALANCE_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "redis", cfg.BalanceCacheBackend)
	require.Equal(t, 90*time.Second, cfg.BalanceCacheTTL)
	require.Equal(t, []string{"http://pos.local", "http://admin.local"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 2, cfg.CurrencyExponent)
	require.Equal(t, "KES", cfg.CurrencyCode)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := Config{BalanceCacheBackend: "memory", CurrencyCode: "KES", CurrencyExponent: 2}
	require.NoError(t, base.Validate())

	bad := base
	bad.BalanceCacheBackend = "memcached"
	require.Error(t, bad.Validate())

	bad = base
	bad.CurrencyExponent = 9
	require.Error(t, bad.Validate())

	bad = base
	bad.AppEnv = "production"
	require.Error(t, bad.Validate(), "production requires api keys")
	bad.APIKeyHashes = []string{"$2a$10$abc"}
	require.NoError(t, bad.Validate())
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "tenant_id", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, float64(3), line["tenant_id"])
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndFallbacks(t *testing.T) {
	cfg := &Config{RateLimitPerMinute: 0}
	router := NewRouter(RouterParams{
		Config:     cfg,
		Metrics:    observability.NewMetrics(),
		JobHandler: jobs.NewHandler(nil, nil),
		Database:   stubPinger{},
	})

	rec := serve(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","database":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = serve(router, http.MethodGet, "/jobs/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/api/v1/tenants/1/nothing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = serve(router, http.MethodGet, "/healthz", map[string]string{"X-Actor-ID": "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `odyssey_ledger_http_requests_total{code="200",route="/healthz"}`)
}

func TestRouterHealthReportsDatabaseOutage(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:   NewLogger(nil),
		Config:   &Config{},
		Database: stubPinger{err: errors.New("connection refused")},
	})
	rec := serve(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("till-42"), bcrypt.MinCost)
	require.NoError(t, err)
	router := NewRouter(RouterParams{
		Config:  &Config{APIKeyHashes: []string{string(hash)}},
		Metrics: observability.NewMetrics(),
	})

	rec := serve(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health checks bypass api keys")

	rec = serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodGet, "/metrics", map[string]string{APIKeyHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec = serve(router, http.MethodGet, "/metrics", map[string]string{APIKeyHeader: "till-42"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{CORSAllowedOrigins: []string{"http://pos.local"}}})
	rec := serve(router, http.MethodOptions, "/api/v1/tenants/1/entries", map[string]string{
		"Origin":                        "http://pos.local",
		"Access-Control-Request-Method": http.MethodPost,
	})
	require.Equal(t, "http://pos.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
