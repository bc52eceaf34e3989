package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/offlinesync/internal/config"
)

func newTestUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "origin "+r.URL.Path)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "seed.json"), []byte(`{
		"staticAssets": ["/app.js"],
		"toolPages": ["/timer"],
		"features": ["offline"]
	}`), 0o644))
	return &config.Config{
		Server:   config.ServerConfig{Addr: ":0", LogLevel: "error", MaxBodyBytes: 1 << 20},
		Upstream: config.UpstreamConfig{URL: upstreamURL, Timeout: "5s"},
		Store:    config.StoreConfig{DSN: ""},
		Cache:    config.CacheConfig{Version: "v1", APIPrefix: "/api/"},
		Sync:     config.SyncConfig{Schedule: "@every 1m", Timeout: "30s"},
		Seed:     config.SeedConfig{Dir: seedDir},
	}
}

func TestAgentStartActivatesAndServes(t *testing.T) {
	upstream := newTestUpstream(t)
	a, err := New(newTestConfig(t, upstream.URL), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	// Seeded tool page survives the upstream going away.
	upstream.Close()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timer", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hit", rec.Header().Get("X-Cache"))
	require.Equal(t, "origin /timer", rec.Body.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
}

func TestAgentHealthEndpoint(t *testing.T) {
	upstream := newTestUpstream(t)
	a, err := New(newTestConfig(t, upstream.URL), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"active"`)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
}

func TestAgentGoTrackedUntilShutdown(t *testing.T) {
	upstream := newTestUpstream(t)
	a, err := New(newTestConfig(t, upstream.URL), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	done := make(chan struct{})
	release := make(chan struct{})
	a.Go(func() {
		<-release
		close(done)
	})
	close(release)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	select {
	case <-done:
	default:
		t.Fatal("background work not waited on")
	}
}
