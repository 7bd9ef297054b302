// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrUnauthorized marks a dial failure already classified as rejected
	// credentials, so no probe is needed.
	ErrUnauthorized = errors.New("camera rejected credentials")
	// ErrStalled is returned by a frame source that produced no frame within
	// its stall timeout.
	ErrStalled = errors.New("stream stalled")
	// ErrConnectTimeout is returned when no first frame arrives in time.
	ErrConnectTimeout = errors.New("no frame before connect timeout")
)

// Target is what the reader connects to. A change of any field reconnects.
type Target struct {
	Source    string
	Width     int
	Height    int
	Framerate int
}

// Frame is the most recent decoded image and the time it was captured.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// FrameSource is an open camera stream.
type FrameSource interface {
	// Next blocks until the next frame is decoded or the stream fails.
	Next() (*image.RGBA, error)
	// Close releases the stream; it is idempotent and may be called from
	// another goroutine to unblock Next.
	Close() error
}

// Dialer opens camera streams.
type Dialer interface {
	Dial(ctx context.Context, target Target) (FrameSource, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, target Target) (FrameSource, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, target Target) (FrameSource, error) {
	return f(ctx, target)
}
