package store

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// BuildFromDSN selects a backend by DSN scheme. A bare path (no scheme) is a
// file store directory; an empty DSN is an in-memory store.
func BuildFromDSN(dsn string, log *slog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "", "file":
		path := dsn
		if scheme == "file" {
			path = parsed.Path
			if path == "" {
				path = parsed.Opaque
			}
		}
		if strings.TrimSpace(path) == "" {
			return nil, ErrInvalidInput
		}
		return NewFileStore(path)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "redis", "rediss":
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return NewRedisStore(opts, log), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}
