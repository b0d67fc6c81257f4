package realtime

import (
	"time"

	"fieldquest/cmd/internal/ids"
)

// newSubscriberID returns a ULID so subscriber ids sort by connect time in logs.
func newSubscriberID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
