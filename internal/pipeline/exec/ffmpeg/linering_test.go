// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing_KeepsNewestStderr(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		writes   []string
		n        int
		want     []string
	}{
		{
			name:     "under capacity",
			capacity: 3,
			writes:   []string{"Input #0, rtsp\n", "Stream #0:0: Video: h264\n"},
			n:        10,
			want:     []string{"Input #0, rtsp", "Stream #0:0: Video: h264"},
		},
		{
			name:     "wraps oldest out",
			capacity: 2,
			writes:   []string{"a\n", "b\n", "c\n"},
			n:        10,
			want:     []string{"b", "c"},
		},
		{
			name:     "last n of full ring",
			capacity: 3,
			writes:   []string{"a\nb\nc\nd\n"},
			n:        2,
			want:     []string{"c", "d"},
		},
		{
			name:     "crlf and blank lines dropped",
			capacity: 3,
			writes:   []string{"frame=1\r\n\r\n", "\nframe=2\n"},
			n:        3,
			want:     []string{"frame=1", "frame=2"},
		},
		{
			name:     "unterminated tail held back",
			capacity: 3,
			writes:   []string{"done\nhalf a li"},
			n:        3,
			want:     []string{"done"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewLineRing(tt.capacity)
			for _, w := range tt.writes {
				n, err := r.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, r.LastN(tt.n))
		})
	}
}

func TestLineRing_DefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	for i := 0; i < 60; i++ {
		_, _ = r.Write([]byte("x\n"))
	}
	assert.Len(t, r.LastN(100), 50)
}

func TestLineRing_OversizedLineDiscarded(t *testing.T) {
	r := NewLineRing(2)
	_, _ = r.Write([]byte(strings.Repeat("z", maxPartialLine+1)))
	_, _ = r.Write([]byte("tail\n"))
	assert.Equal(t, []string{"tail"}, r.LastN(2))
}
