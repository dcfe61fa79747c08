package domain

import "errors"

// ErrVersionConflict is returned by repositories when an update was based
// on a stale version of the aggregate.
var ErrVersionConflict = errors.New("aggregate was modified concurrently")

// IsNotFound reports whether err wraps any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrCampaignNotFound) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsInvalidState reports whether err is a rejected state change.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCampaignRunning) ||
		errors.Is(err, ErrCampaignFinished) ||
		errors.Is(err, ErrSystemSegment) ||
		errors.Is(err, ErrVersionConflict)
}
