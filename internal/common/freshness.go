// Package common provides shared utilities for Tally
package common

import "time"

// FreshnessExchangeSync is how long a completed sync satisfies the scheduler.
const FreshnessExchangeSync = 10 * time.Minute

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	return IsFreshAt(updated, ttl, time.Now())
}

// IsFreshAt is IsFresh measured against an explicit clock.
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
