// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"sync"
)

// maxPartialLine bounds the unterminated tail kept between writes.
const maxPartialLine = 4096

// LineRing is a thread-safe ring buffer for capturing the last N lines of log
// output. Lines are redacted before they are stored. An optional OnLine hook
// sees every complete, redacted line.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	size    int
	partial strings.Builder

	OnLine func(line string)
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer. Input may split lines across calls; the
// unterminated tail is held until its newline arrives.
func (r *LineRing) Write(p []byte) (int, error) {
	var complete []string

	r.mu.Lock()
	s := string(p)
	for {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		r.partial.WriteString(s[:idx])
		line := strings.TrimRight(r.partial.String(), "\r")
		r.partial.Reset()
		s = s[idx+1:]
		if line == "" {
			continue
		}
		line = Redact(line)
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
		complete = append(complete, line)
	}
	if r.partial.Len()+len(s) > maxPartialLine {
		r.partial.Reset()
	} else {
		r.partial.WriteString(s)
	}
	hook := r.OnLine
	r.mu.Unlock()

	if hook != nil {
		for _, line := range complete {
			hook(line)
		}
	}
	return len(p), nil
}

// LastN returns the last N lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	// r.head is the next write position, so it is also the oldest entry.
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Contains reports whether any buffered line contains one of the needles
// (case-insensitive).
func (r *LineRing) Contains(needles ...string) bool {
	for _, line := range r.LastN(r.size) {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(lower, strings.ToLower(n)) {
				return true
			}
		}
	}
	return false
}
