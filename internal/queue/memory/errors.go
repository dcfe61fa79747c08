package memory

import "errors"

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("receipt queue is closed")
