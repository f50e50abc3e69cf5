package searchit

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for analytics event and feedback row ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUTC returns the current time in UTC. Event timestamps are always
// serialized as RFC 3339 UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}
