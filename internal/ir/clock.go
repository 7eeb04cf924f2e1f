package ir

import "time"

// Clock supplies wall time for lineage timestamps (received_at, updated_at,
// bound_at). Ordering never depends on it; arrival order is the store seq.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
