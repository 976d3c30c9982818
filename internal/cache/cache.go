// Package cache provides the key/value store used for scheduled emails and
// sent-message records, with in-memory and Redis backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a byte-oriented key/value store with per-key expiry.
type Cache interface {
	// Get returns the value for key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl selects the default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Keys returns the live keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Config holds cache configuration.
type Config struct {
	// Type is the backend: "memory" or "redis".
	Type string

	// URL is the Redis connection URL (redis://localhost:6379/0).
	URL string

	// Prefix namespaces every key in a shared Redis.
	Prefix string

	DefaultTTL      time.Duration
	CleanupInterval time.Duration

	// Clock replaces time.Now for expiry in the memory backend.
	Clock func() time.Time
}

// DefaultConfig returns the in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// New creates the backend selected by cfg.Type.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisCache(cfg)
	case "memory", "":
		return NewMemoryCache(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %q", cfg.Type)
	}
}

// GetJSON loads key and unmarshals it into dest.
func GetJSON(ctx context.Context, c Cache, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("json unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
