// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"image"
	"math"
)

// prerollCapacity sizes the ring to cover preSeconds of video when only
// every throttle-th frame is kept.
func prerollCapacity(preSeconds, fps, throttle int) int {
	if preSeconds <= 0 || fps <= 0 {
		return 0
	}
	if throttle < 1 {
		throttle = 1
	}
	return int(math.Ceil(float64(preSeconds*fps) / float64(throttle)))
}

// preroll is a bounded ring of recent processed frames.
type preroll struct {
	frames   []*image.RGBA
	start    int
	n        int
	throttle int
	offered  int
}

func newPreroll(capacity, throttle int) *preroll {
	if throttle < 1 {
		throttle = 1
	}
	return &preroll{frames: make([]*image.RGBA, capacity), throttle: throttle}
}

// Offer keeps every throttle-th frame, evicting the oldest when full.
func (r *preroll) Offer(img *image.RGBA) {
	if len(r.frames) == 0 || img == nil {
		return
	}
	r.offered++
	if (r.offered-1)%r.throttle != 0 {
		return
	}
	idx := (r.start + r.n) % len(r.frames)
	if r.n == len(r.frames) {
		r.frames[r.start] = img
		r.start = (r.start + 1) % len(r.frames)
		return
	}
	r.frames[idx] = img
	r.n++
}

// Frames returns the buffered frames oldest first.
func (r *preroll) Frames() []*image.RGBA {
	if r.n == 0 {
		return nil
	}
	out := make([]*image.RGBA, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.frames[(r.start+i)%len(r.frames)])
	}
	return out
}

// Len returns the number of buffered frames.
func (r *preroll) Len() int { return r.n }

// Clear drops all frames.
func (r *preroll) Clear() {
	for i := range r.frames {
		r.frames[i] = nil
	}
	r.start, r.n, r.offered = 0, 0, 0
}
