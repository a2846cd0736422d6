package models

import "time"

// AttemptRecord tracks failures for one rate-limited identifier.
type AttemptRecord struct {
	Count          int        `json:"count"`
	FirstFailureAt time.Time  `json:"first_failure_at"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}
