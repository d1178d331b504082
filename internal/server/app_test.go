package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:       config.ServerConfig{Port: 8080},
		Site:         config.SiteConfig{HomeURL: "https://example.com"},
		Orchestrator: config.OrchestratorConfig{DebounceDelay: time.Hour, RetryDelay: time.Hour, DestinationRoot: "mirrors"},
		Crawler:      config.CrawlerConfig{Binary: "site-mirror-test-missing-binary", ScratchRoot: t.TempDir()},
		Storage:      config.StorageConfig{Backend: config.StorageLocal, BaseDir: t.TempDir()},
		Catalog:      config.CatalogConfig{Backend: config.BackendMemory, ExpirySchedule: "@hourly"},
		State:        config.StateConfig{Backend: config.BackendMemory},
		Telemetry:    config.TelemetryConfig{ServiceName: "site-mirror-test", SampleRatio: 1},
	}
}

func TestBuildWiresMemoryBackends(t *testing.T) {
	ctx := context.Background()
	app, err := build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "missing crawl binary fails readiness")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers", bytes.NewBufferString(`{"reason":"Post updated"}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	st, err := app.Orchestrator().Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Pending)
	require.Equal(t, []string{"Post updated"}, st.Pending.Changelog)
	require.NotNil(t, st.NextRun)
}

func TestBuildWiresRedisState(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.State = config.StateConfig{Backend: config.BackendRedis, RedisAddr: mr.Addr(), KeyPrefix: "test"}

	ctx := context.Background()
	app, err := build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = app.Orchestrator().SaveSettings(ctx, map[string]string{"crawl_depth": "2"})
	require.NoError(t, err)
	require.Equal(t, "2", mr.HGet("test:settings", "crawl_depth"))

	_, err = app.Orchestrator().Enqueue(ctx, "Menu changed")
	require.NoError(t, err)
	require.True(t, mr.Exists("test:pending"))
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.State = config.StateConfig{Backend: config.BackendRedis, RedisAddr: "127.0.0.1:1"}

	_, err := build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis ping failed")
}
