package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry creates the counter with its expiry atomically so a crashed
// client can never leave an immortal counter behind.
const incrWithExpiry = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// RedisCache is the redis-backed [Cache]. Keys are prefixed with the
// configured namespace.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// Compile-time interface check.
var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to redis at addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, namespace string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client, namespace: namespace}, nil
}

// Get implements [Cache].
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, Key(c.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	return raw, nil
}

// Set implements [Cache].
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, Key(c.namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements [Cache].
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, Key(c.namespace, key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del %q: %w", key, err)
	}
	return nil
}

// Incr implements [Cache].
func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	seconds := int(ttl.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	count, err := c.client.Eval(ctx, incrWithExpiry, []string{Key(c.namespace, key)}, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: redis incr %q: %w", key, err)
	}
	return count, nil
}

// Close implements [Cache].
func (c *RedisCache) Close() error {
	return c.client.Close()
}
