package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Upstream      UpstreamConfig      `koanf:"upstream"`
	Store         StoreConfig         `koanf:"store"`
	Cache         CacheConfig         `koanf:"cache"`
	Sync          SyncConfig          `koanf:"sync"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Seed          SeedConfig          `koanf:"seed"`
}

type ServerConfig struct {
	Addr         string `koanf:"addr"`
	LogLevel     string `koanf:"log_level"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
}

type UpstreamConfig struct {
	URL     string `koanf:"url"`
	Timeout string `koanf:"timeout"`
}

type StoreConfig struct {
	DSN string `koanf:"dsn"`
}

type CacheConfig struct {
	Version   string `koanf:"version"`
	APIPrefix string `koanf:"api_prefix"`
}

type SyncConfig struct {
	Schedule string `koanf:"schedule"`
	Timeout  string `koanf:"timeout"`
}

type NotificationsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type SeedConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

const (
	DefaultServerAddr      = ":8787"
	DefaultServerLogLevel  = "info"
	DefaultServerMaxBody   = int64(1 << 20)
	DefaultUpstreamURL     = "http://127.0.0.1:3000"
	DefaultUpstreamTimeout = "30s"
	DefaultStoreDSN        = ""
	DefaultCacheVersion    = "v1"
	DefaultCacheAPIPrefix  = "/api/"
	DefaultSyncSchedule    = "@every 1m"
	DefaultSyncTimeout     = "2m"
	DefaultSeedWatch       = true
)

// Load builds the configuration from hardcoded defaults, an optional YAML
// file, and OFFLINESYNC_-prefixed environment variables, in that precedence
// order.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.addr":           DefaultServerAddr,
		"server.log_level":      DefaultServerLogLevel,
		"server.max_body_bytes": DefaultServerMaxBody,
		"upstream.url":          DefaultUpstreamURL,
		"upstream.timeout":      DefaultUpstreamTimeout,
		"store.dsn":             DefaultStoreDSN,
		"cache.version":         DefaultCacheVersion,
		"cache.api_prefix":      DefaultCacheAPIPrefix,
		"sync.schedule":         DefaultSyncSchedule,
		"sync.timeout":          DefaultSyncTimeout,
		"notifications.enabled": true,
		"seed.dir":              "",
		"seed.watch":            DefaultSeedWatch,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	k.Load(env.Provider("OFFLINESYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "OFFLINESYNC_")), "_", ".", -1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	parsed, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream.url: unsupported scheme %q", parsed.Scheme)
	}
	if c.Cache.Version == "" {
		return fmt.Errorf("cache.version is required")
	}
	if strings.Contains(c.Cache.Version, "@") {
		return fmt.Errorf("cache.version must not contain %q", "@")
	}
	if c.Seed.Dir != "" {
		if info, err := os.Stat(c.Seed.Dir); err != nil {
			return fmt.Errorf("seed.dir: %w", err)
		} else if !info.IsDir() {
			return fmt.Errorf("seed.dir: %s is not a directory", c.Seed.Dir)
		}
	}
	return nil
}
