// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package preview holds the latest live-view JPEG of a camera and fans it
// out to MJPEG viewers.
package preview

import (
	"net/http"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"
)

// DefaultStaleAfter is the age beyond which a preview is unavailable.
const DefaultStaleAfter = 10 * time.Second

// Buffer is single-writer, multi-reader. Readers always get a copy.
type Buffer struct {
	staleAfter time.Duration
	now        func() time.Time

	mu   sync.RWMutex
	jpeg []byte
	at   time.Time

	stream *mjpeg.Stream
	feed   chan []byte
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

// NewBuffer returns an empty buffer and starts its MJPEG fan-out.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		stream:     mjpeg.NewStream(),
		feed:       make(chan []byte, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.fanout()
	return b
}

// Set stores a new JPEG captured at at. The buffer takes ownership of jpeg.
// Set never blocks on viewers.
func (b *Buffer) Set(jpeg []byte, at time.Time) {
	b.mu.Lock()
	b.jpeg = jpeg
	b.at = at
	b.mu.Unlock()

	// Keep only the newest frame queued for the fan-out.
	select {
	case b.feed <- jpeg:
	default:
		select {
		case <-b.feed:
		default:
		}
		select {
		case b.feed <- jpeg:
		default:
		}
	}
}

// Get returns a copy of the latest JPEG if it is fresh.
func (b *Buffer) Get() ([]byte, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.jpeg) == 0 || b.now().Sub(b.at) > b.staleAfter {
		return nil, time.Time{}, false
	}
	out := make([]byte, len(b.jpeg))
	copy(out, b.jpeg)
	return out, b.at, true
}

// Size returns the byte length of the stored JPEG, fresh or not.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jpeg)
}

// ServeHTTP streams the preview as multipart MJPEG.
func (b *Buffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.stream.ServeHTTP(w, r)
}

// Close stops the fan-out goroutine.
func (b *Buffer) Close() {
	b.once.Do(func() {
		close(b.quit)
		<-b.done
	})
}

func (b *Buffer) fanout() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case jpeg := <-b.feed:
			b.stream.UpdateJPEG(jpeg)
		}
	}
}
