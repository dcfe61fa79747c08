package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"herald-go/internal/store"
)

// Key prefix for lock entries in Redis.
const prefixLock = "lock:"

// lockRetryInterval is how often a blocked Acquire retries SET NX.
const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements store.Locker with SET NX PX and a token-checked release.
type Locker struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewLocker creates a Redis-backed locker. keyPrefix namespaces all keys.
func NewLocker(client *redis.Client, keyPrefix string, logger *slog.Logger) *Locker {
	return &Locker{client: client, keyPrefix: keyPrefix, logger: logger}
}

// lockKey generates the Redis key for a lock.
func (l *Locker) lockKey(key string) string {
	return l.keyPrefix + prefixLock + key
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := l.lockKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			go l.keepAlive(redisKey, token, ttl, stop)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					l.release(redisKey, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", store.ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// keepAlive refreshes the lock TTL until stop is closed or the key no longer
// holds our token.
func (l *Locker) keepAlive(redisKey, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend lock",
					"key", redisKey,
					"error", err,
				)
				continue
			}
			if n == 0 {
				l.logger.Warn("lock lost before release", "key", redisKey)
				return
			}
		}
	}
}

// release runs detached from the caller's context so a cancelled request
// still frees the lock.
func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("failed to release lock, it will expire",
			"key", redisKey,
			"error", err,
		)
	}
}

// Close is a no-op. The client is owned by the caller.
func (l *Locker) Close() error {
	return nil
}
