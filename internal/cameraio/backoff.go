package cameraio

import "time"

// reconnectBackoff computes the delay before the Nth reconnection attempt
// (attempt is 1-based), exponential with a 2s floor and 30s ceiling, per
// spec.md §4.1's reconnection policy.
func reconnectBackoff(attempt int) time.Duration {
	const floor = 2 * time.Second
	const ceiling = 30 * time.Second

	d := floor
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// busyBackoffLadder is the suggested backoff before each retry of a vendor
// call that returned HTTP 503 ("camera busy"): 2, 4, 8, 16, 32 seconds,
// capped at 5 attempts, per spec.md §4.1.
var busyBackoffLadder = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// maxBusyAttempts is the total number of attempts a busy call gets: one per
// ladder entry, read at call time so the ladder can be shortened in tests.
func maxBusyAttempts() int { return len(busyBackoffLadder) }
