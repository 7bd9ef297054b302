// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import "time"

// DefaultBackoff is the delay schedule after consecutive unreachable
// failures. The last entry repeats.
var DefaultBackoff = []time.Duration{
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// DefaultAuthRecheck is how often an unauthorized reader wakes up to see
// whether it was reconfigured.
const DefaultAuthRecheck = 2 * time.Second

// Backoff returns the delay after the given number of consecutive failures
// (1-based). Non-positive counts and empty schedules return zero.
func Backoff(schedule []time.Duration, failures int) time.Duration {
	if failures <= 0 || len(schedule) == 0 {
		return 0
	}
	idx := failures - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
