package domain

import "time"

// State is the block state shared by accounts and devices.
type State struct {
	BlockedAt      *time.Time
	BlockedUntil   *time.Time
	BlockCount     int
	ForeverBlocked bool
}

// TimeBlockActive reports whether a time-based block is still in force at now
// and how long it has left.
func (s State) TimeBlockActive(now time.Time) (bool, time.Duration) {
	if s.BlockedUntil == nil || !s.BlockedUntil.After(now) {
		return false, 0
	}
	return true, s.BlockedUntil.Sub(now)
}

// TimeBlockExpired reports whether a time-based block is set but has lapsed.
func (s State) TimeBlockExpired(now time.Time) bool {
	return s.BlockedUntil != nil && !s.BlockedUntil.After(now)
}
