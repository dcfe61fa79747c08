package campaign

import (
	"time"

	"herald-go/internal/domain"
)

// DelayForIndex returns how long after the campaign start the recipient at
// position index should be sent to. MessagesPerMinute takes precedence
// over MessagesPerHour. The sending window is not applied.
func DelayForIndex(t domain.Throttle, index int) time.Duration {
	if !t.Enabled || index <= 0 {
		return 0
	}

	var ms int64
	switch {
	case t.MessagesPerMinute > 0:
		ms = int64(index) * 60000 / int64(t.MessagesPerMinute)
	case t.MessagesPerHour > 0:
		ms = int64(index) * 3600000 / int64(t.MessagesPerHour)
	default:
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
