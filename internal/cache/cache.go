// Package cache provides the distributed key-value cache used for partner
// personas, personality profiles, and daily message quotas.
//
// Two implementations exist: [RedisCache], backed by a shared redis instance,
// and [MemoryCache], an in-process fallback used when no redis address is
// configured. Every key is prefixed with the configured namespace so multiple
// deployments can share one redis database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is the key-value contract components depend on. Values are opaque
// byte slices; use [GetJSON] and [SetJSON] for structured values.
type Cache interface {
	// Get returns the value stored under key, or [ErrCacheMiss].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A non-positive ttl stores without
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter under key, setting ttl when the
	// counter is created. Returns the value after the increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// GetJSON reads the value under key and unmarshals it into out.
func GetJSON(ctx context.Context, c Cache, key string, out any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key for ttl.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Key joins the namespace and key parts with ":". An empty namespace is
// allowed.
func Key(namespace string, parts ...string) string {
	key := namespace
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}
