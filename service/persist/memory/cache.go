package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mikeydub/go-activity/service/redis"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-process stand-in for redis.Cache. Misses return redis.ErrKeyNotFound so callers
// handle both the same way.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cacheEntry{}, now: time.Now}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (!e.expiresAt.IsZero() && c.now().After(e.expiresAt)) {
		delete(c.entries, key)
		return nil, redis.ErrKeyNotFound{Key: key}
	}
	return e.value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expiresAt = c.now().Add(expiration)
	}
	c.entries[key] = e
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// SetNX sets key only when it holds no live value and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && (e.expiresAt.IsZero() || !c.now().After(e.expiresAt)) {
		return false, nil
	}
	e := cacheEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expiresAt = c.now().Add(expiration)
	}
	c.entries[key] = e
	return true, nil
}
