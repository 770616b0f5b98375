package certchain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache stores revocation answers for a bounded time. Implementations are
// shared by all workers and must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (RevocationResult, bool)
	Set(ctx context.Context, key string, res RevocationResult, ttl time.Duration)
}

type memoryEntry struct {
	result  RevocationResult
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, key string) (RevocationResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return RevocationResult{}, false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return RevocationResult{}, false
	}
	return e.result, true
}

// Set stores res until ttl elapses.
func (c *MemoryCache) Set(_ context.Context, key string, res RevocationResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{result: res, expires: c.now().Add(ttl)}
}

// Len counts stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares answers between processes. Redis errors read as misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisCache stores entries under "revocation:<key>".
func NewRedisCache(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: "revocation:", logger: logger}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (RevocationResult, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("revocation cache read failed")
		}
		return RevocationResult{}, false
	}
	var res RevocationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return RevocationResult{}, false
	}
	return res, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, res RevocationResult, ttl time.Duration) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("revocation cache write failed")
	}
}
