package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	require.Equal(t, DefaultUpstreamURL, cfg.Upstream.URL)
	require.Equal(t, DefaultCacheVersion, cfg.Cache.Version)
	require.Equal(t, DefaultCacheAPIPrefix, cfg.Cache.APIPrefix)
	require.Equal(t, DefaultSyncSchedule, cfg.Sync.Schedule)
	require.True(t, cfg.Notifications.Enabled)
	require.True(t, cfg.Seed.Watch)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
upstream:
  url: "https://origin.example"
cache:
  version: "v7"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, "https://origin.example", cfg.Upstream.URL)
	require.Equal(t, "v7", cfg.Cache.Version)
	// Untouched keys keep their defaults.
	require.Equal(t, DefaultSyncSchedule, cfg.Sync.Schedule)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  version: \"v7\"\n"), 0o644))
	t.Setenv("OFFLINESYNC_CACHE_VERSION", "v8")
	t.Setenv("OFFLINESYNC_STORE_DSN", "memory://")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "v8", cfg.Cache.Version)
	require.Equal(t, "memory://", cfg.Store.DSN)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	t.Setenv("OFFLINESYNC_UPSTREAM_URL", "ftp://files.example")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported scheme")
}

func TestValidateRejectsVersionWithSeparator(t *testing.T) {
	t.Setenv("OFFLINESYNC_CACHE_VERSION", "v1@beta")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsMissingSeedDir(t *testing.T) {
	t.Setenv("OFFLINESYNC_SEED_DIR", filepath.Join(t.TempDir(), "absent"))
	_, err := Load("")
	require.Error(t, err)
}
