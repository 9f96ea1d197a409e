package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceCache remembers nonces seen within a replay window. Seen reports
// true when key was already recorded and still live; otherwise it records
// key until ttl elapses.
type NonceCache interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonceCache is an in-process [NonceCache].
type MemoryNonceCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	sweeps  int
}

// NewMemoryNonceCache creates an empty cache. now may be nil.
func NewMemoryNonceCache(now func() time.Time) *MemoryNonceCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceCache{entries: make(map[string]time.Time), now: now}
}

func (c *MemoryNonceCache) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return true, nil
	}
	c.entries[key] = now.Add(ttl)

	c.sweeps++
	if c.sweeps >= 256 {
		c.sweeps = 0
		for k, exp := range c.entries {
			if !now.Before(exp) {
				delete(c.entries, k)
			}
		}
	}
	return false, nil
}

// RedisNonceCache is a [NonceCache] shared by every instance that uses the
// same Redis, so a request replayed against another replica is caught too.
type RedisNonceCache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisNonceCache creates a cache storing keys under prefix.
func NewRedisNonceCache(client redis.UniversalClient, prefix string) *RedisNonceCache {
	if prefix == "" {
		prefix = "nonce"
	}
	return &RedisNonceCache{redis: client, prefix: prefix}
}

// Seen records key with SET NX; an existing key means a replay.
func (c *RedisNonceCache) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := c.redis.SetNX(ctx, c.prefix+":"+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}
