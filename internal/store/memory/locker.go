// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"herald-go/internal/store"
)

// lockRetryInterval is how often a blocked Acquire retries.
const lockRetryInterval = 5 * time.Millisecond

// Locker is an in-memory implementation of store.Locker.
// Expiration is checked on access (lazy expiration).
type Locker struct {
	mu sync.Mutex

	// locks stores the holder of each key
	locks map[string]*lockEntry

	seq uint64
}

// lockEntry wraps a lock token with expiration tracking.
type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// NewLocker creates a new in-memory locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		if token, ok := l.tryAcquire(key, ttl); ok {
			stop := make(chan struct{})
			go l.keepAlive(key, token, ttl, stop)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					l.release(key, token)
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

func (l *Locker) tryAcquire(key string, ttl time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, held := l.locks[key]; held && now.Before(entry.expiresAt) {
		return 0, false
	}

	l.seq++
	l.locks[key] = &lockEntry{token: l.seq, expiresAt: now.Add(ttl)}
	return l.seq, true
}

// keepAlive pushes the expiry of a held lock forward until stop is closed
// or the lock is lost.
func (l *Locker) keepAlive(key string, token uint64, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !l.extend(key, token, ttl) {
				return
			}
		}
	}
}

func (l *Locker) extend(key string, token uint64, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, held := l.locks[key]
	if !held || entry.token != token {
		return false
	}
	entry.expiresAt = time.Now().Add(ttl)
	return true
}

// release only removes the lock if it is still held by the same token.
func (l *Locker) release(key string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, held := l.locks[key]; held && entry.token == token {
		delete(l.locks, key)
	}
}

// Close releases resources. For the in-memory locker this is a no-op.
func (l *Locker) Close() error {
	return nil
}

// Clear removes all data from the locker. Useful for test cleanup.
func (l *Locker) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.locks = make(map[string]*lockEntry)
}
