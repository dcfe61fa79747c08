// Package store defines interfaces for data persistence and coordination.
// These abstractions allow swapping implementations (Redis, PostgreSQL, in-memory)
// without changing business logic.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotAcquired is returned when a lock could not be taken before the
// context was done.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes work on one aggregate across workers.
// All methods must be safe for concurrent use.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done. While
	// held, the lock is refreshed every third of ttl; it expires after ttl
	// only if the holder stops refreshing it without releasing. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)

	// Close releases any resources held by the locker.
	Close() error
}

// CampaignLockKey is the lock key for a campaign aggregate.
func CampaignLockKey(campaignID string) string {
	return "campaign:" + campaignID
}

// SegmentLockKey is the lock key for a segment aggregate.
func SegmentLockKey(segmentID string) string {
	return "segment:" + segmentID
}

// ExecutionLockKey is the lock key for a single execution record.
func ExecutionLockKey(executionID string) string {
	return "execution:" + executionID
}
