package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-process [Cache] fallback. Expired entries are dropped
// lazily on access and swept periodically.
//
// MemoryCache is safe for concurrent use.
type MemoryCache struct {
	namespace string

	mu      sync.Mutex
	entries map[string]memoryEntry

	done     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value []byte
	count int64
	// expiresAt is the zero time for entries without expiry.
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Compile-time interface check.
var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache and starts its sweep goroutine.
func NewMemoryCache(namespace string) *MemoryCache {
	c := &MemoryCache{
		namespace: namespace,
		entries:   make(map[string]memoryEntry),
		done:      make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get implements [Cache].
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	k := Key(c.namespace, key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if !ok || entry.expired(now) {
		delete(c.entries, k)
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set implements [Cache].
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	k := Key(c.namespace, key)
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[k] = entry
	c.mu.Unlock()
	return nil
}

// Delete implements [Cache].
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, Key(c.namespace, key))
	c.mu.Unlock()
	return nil
}

// Incr implements [Cache].
func (c *MemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	k := Key(c.namespace, key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if !ok || entry.expired(now) {
		entry = memoryEntry{count: 0}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
	}
	entry.count++
	c.entries[k] = entry
	return entry.count, nil
}

// Close implements [Cache]. It stops the sweep goroutine.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, entry := range c.entries {
				if entry.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
