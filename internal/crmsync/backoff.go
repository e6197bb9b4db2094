// internal/crmsync/backoff.go
//
// Exponential backoff schedule for failed sync attempts.
package crmsync

import "time"

// Backoff computes the hold before a failed record becomes eligible
// again: Base doubled per completed attempt, never above Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the hold after the given number of failures (1-based).
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := b.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
