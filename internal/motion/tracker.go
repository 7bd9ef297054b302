// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package motion

import "time"

// Transition is the result of one tracker step.
type Transition int

const (
	None Transition = iota
	Started
	Ended
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Ended:
		return "ended"
	default:
		return "none"
	}
}

// State is the debounce state shared with the recording decision.
type State struct {
	Detected                bool
	LastMotionAt            time.Time
	ConsecutiveMotionFrames int
	ConsecutiveStillFrames  int
}

// Tracker turns per-frame motion scores into start and end transitions.
// Owned by the pipeline goroutine.
type Tracker struct {
	threshold float64
	minFrames int
	gap       time.Duration

	state State
}

// NewTracker returns a tracker; minFrames below one is treated as one.
func NewTracker(threshold float64, minFrames int, gap time.Duration) *Tracker {
	t := &Tracker{}
	t.Configure(threshold, minFrames, gap)
	return t
}

// Configure swaps tuning without losing the current state.
func (t *Tracker) Configure(threshold float64, minFrames int, gap time.Duration) {
	if minFrames < 1 {
		minFrames = 1
	}
	t.threshold = threshold
	t.minFrames = minFrames
	t.gap = gap
}

// State returns a copy of the current state.
func (t *Tracker) State() State { return t.state }

// Observe feeds one detector score taken at now.
func (t *Tracker) Observe(score float64, now time.Time) Transition {
	above := score > t.threshold
	if above {
		t.state.ConsecutiveMotionFrames++
		t.state.ConsecutiveStillFrames = 0
	} else {
		t.state.ConsecutiveStillFrames++
		t.state.ConsecutiveMotionFrames = 0
	}

	if !t.state.Detected {
		if above && t.state.ConsecutiveMotionFrames >= t.minFrames {
			t.state.Detected = true
			t.state.LastMotionAt = now
			return Started
		}
		return None
	}

	if above {
		t.state.LastMotionAt = now
		return None
	}
	if now.Sub(t.state.LastMotionAt) > t.gap {
		t.state.Detected = false
		return Ended
	}
	return None
}

// ForceEnd ends an active motion, as when detection is switched off. The
// counters are cleared so detection restarts from scratch.
func (t *Tracker) ForceEnd() Transition {
	wasDetected := t.state.Detected
	t.state.Detected = false
	t.state.ConsecutiveMotionFrames = 0
	t.state.ConsecutiveStillFrames = 0
	if wasDetected {
		return Ended
	}
	return None
}

// Expire ends motion once the gap has elapsed without scoring a frame.
// Frames skipped by DetectEveryN use it so an end is not delayed; the
// counters are left untouched.
func (t *Tracker) Expire(now time.Time) Transition {
	if t.state.Detected && now.Sub(t.state.LastMotionAt) > t.gap {
		t.state.Detected = false
		return Ended
	}
	return None
}
