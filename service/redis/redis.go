package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"

	"github.com/mikeydub/go-activity/env"
	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/util"
)

type ErrKeyNotFound struct {
	Key string
}

type redisDB int

type CacheConfig struct {
	database    redisDB
	displayName string
	keyPrefix   string
}

const (
	locks redisDB = 0
	feed  redisDB = 13
)

// Every cache is uniquely defined by its database and key prefix. Display names are used for logging.

var (
	MentionLockCache  = CacheConfig{database: locks, keyPrefix: "mention", displayName: "mentionLock"}
	FavoriteLockCache = CacheConfig{database: locks, keyPrefix: "favorite", displayName: "favoriteLock"}
	FeedCache         = CacheConfig{database: feed, keyPrefix: "", displayName: "feed"}
)

func newClient(db redisDB, displayName string) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	client := redis.NewClient(&redis.Options{
		Addr:     env.GetString(ctx, "REDIS_URL"),
		Password: env.GetString(ctx, "REDIS_PASS"),
		DB:       int(db),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Errorf("connecting to redis cache %s: %w", displayName, err))
	}
	logger.For(ctx).Debugf("connected to redis cache %s (db=%d)", displayName, db)
	return client
}

// Cache represents an abstraction over a redis client
type Cache struct {
	client    *redis.Client
	keyPrefix string
	scripter  *scripter
}

// NewCache creates a new redis cache
func NewCache(config CacheConfig) *Cache {
	return NewCacheWithClient(newClient(config.database, config.displayName), config.keyPrefix)
}

// NewCacheWithClient wraps an existing client, namespacing every key with keyPrefix
func NewCacheWithClient(client *redis.Client, keyPrefix string) *Cache {
	cache := &Cache{
		client:    client,
		keyPrefix: keyPrefix,
	}
	cache.scripter = &scripter{cache: cache}
	return cache
}

// Set sets a value in the redis cache
func (c *Cache) Set(pCtx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(pCtx, c.getPrefixedKey(key), value, expiration).Err()
}

// SetNX sets a value in the redis cache if it doesn't already exist. Returns true if the key did not
// already exist and was set, false if the key did exist and therefore was not set.
func (c *Cache) SetNX(pCtx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	cmd := c.client.SetNX(pCtx, c.getPrefixedKey(key), value, expiration)

	err := cmd.Err()
	if err != nil {
		return false, err
	}

	return cmd.Val(), nil
}

// Get gets a value from the redis cache
func (c *Cache) Get(pCtx context.Context, key string) ([]byte, error) {
	bs, err := c.client.Get(pCtx, c.getPrefixedKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound{Key: key}
		}
		return nil, err
	}
	return bs, nil
}

func (c *Cache) Delete(pCtx context.Context, key string) error {
	return c.client.Del(pCtx, c.getPrefixedKey(key)).Err()
}

// Close closes the underlying redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) getPrefixedKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}

	return c.keyPrefix + ":" + key
}

func (c *Cache) getPrefixedKeys(keys []string) []string {
	if c.keyPrefix == "" {
		return keys
	}

	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = c.keyPrefix + ":" + key
	}
	return prefixedKeys
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

// scripter is an implementation of the redis.Scripter interface that uses a Cache to namespace keys
type scripter struct {
	cache *Cache
}

func (s scripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.Eval(ctx, script, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.EvalSha(ctx, sha1, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) ScriptExists(ctx context.Context, scripts ...string) *redis.BoolSliceCmd {
	return s.cache.client.ScriptExists(ctx, scripts...)
}

func (s scripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return s.cache.client.ScriptLoad(ctx, script)
}

func NewLockClient(cache *Cache) *redislock.Client {
	return redislock.New(&redislockCacheClient{
		scripter: *cache.scripter,
	})
}

// redislockCacheClient is a minimal implementation of redislock.RedisClient that uses a Cache to namespace its keys.
type redislockCacheClient struct {
	scripter
}

func (r *redislockCacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return r.cache.client.SetNX(ctx, r.cache.getPrefixedKey(key), value, expiration)
}

// Cacher is the subset of Cache a LazyCache needs
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
}

// LazyCache implements a lazy loading cache that stores data only when it is requested
type LazyCache struct {
	Cache    Cacher
	CalcFunc func(context.Context) ([]byte, error)
	Key      string
	TTL      time.Duration
}

// Load queries the cache for the given key, and if it is current returns the data.
// Read errors other than a missing key are logged and treated as a miss, so a flaky
// cache never fails the read.
func (l LazyCache) Load(ctx context.Context) ([]byte, error) {
	b, err := l.Cache.Get(ctx, l.Key)
	if err == nil {
		return b, nil
	}
	if !util.ErrorAs[ErrKeyNotFound](err) {
		logger.For(ctx).WithError(err).Warnf("failed to read %s from cache", l.Key)
	}
	b, err = l.CalcFunc(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.Cache.Set(ctx, l.Key, b, l.TTL); err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to write %s to cache", l.Key)
	}
	return b, nil
}
