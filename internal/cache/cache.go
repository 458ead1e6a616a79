// Package cache provides the TTL key-value store shared by pipeline stages.
// Values are opaque strings; callers JSON-encode structured results.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Cache is a TTL key-value store. A zero TTL means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetEX(ctx context.Context, key string, ttl time.Duration, value string) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) (bool, error)
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int   `json:"entries"`
	Expired int   `json:"expired"`
	Bytes   int64 `json:"bytes"`
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend   string // "sqlite" or "memory"
	Directory string
	Logger    zerolog.Logger
}

// Open builds the configured cache. When the SQLite store cannot be opened
// it logs the failure and falls back to an in-process cache.
func Open(ctx context.Context, opts Options) (Cache, func() error, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "sqlite":
		store, err := NewSQLiteStore(ctx, opts.Directory)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("directory", opts.Directory).
				Msg("sqlite cache unavailable, using in-memory cache")
			return NewMemory(), func() error { return nil }, nil
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// GetJSON reads key and decodes it into out. The bool reports a hit.
// Undecodable entries are treated as misses.
func GetJSON(ctx context.Context, c Cache, key string, out any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}
