package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"github.com/mikeydub/go-activity/service/logger"
)

// ErrLockNotObtained is returned when a lock could not be acquired before the retries ran out.
type ErrLockNotObtained struct {
	Key string
}

func (e ErrLockNotObtained) Error() string {
	return fmt.Sprintf("lock not obtained for key %s", e.Key)
}

// Locker serializes work on a key across every process sharing the cache.
// Locks expire after ttl so a crashed holder can't keep a key locked forever.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker returns a Locker that waits up to wait for a held lock to be released.
func NewLocker(cache *Cache, ttl, wait time.Duration) *Locker {
	return &Locker{client: NewLockClient(cache), ttl: ttl, wait: wait}
}

// Lock blocks until the lock for key is held and returns the function that releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	backoff := 50 * time.Millisecond
	retries := int(l.wait / backoff)

	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(backoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained{Key: key}
	}
	if err != nil {
		return nil, err
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.For(ctx).WithError(err).Warnf("failed to release lock %s", key)
		}
	}, nil
}
