// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/rs/zerolog"
)

// FFmpegDialer decodes camera streams with an ffmpeg child process emitting
// BMP images on stdout.
type FFmpegDialer struct {
	Bin string
	// ConnectTimeout bounds the wait for the first frame.
	ConnectTimeout time.Duration
	// StallTimeout fails Next when no frame arrived for this long.
	StallTimeout time.Duration
	// SocketTimeout is passed to ffmpeg as its protocol I/O timeout.
	SocketTimeout time.Duration
	Logger        *zerolog.Logger
}

// Dial starts ffmpeg and waits for the first decoded frame.
func (d *FFmpegDialer) Dial(ctx context.Context, target Target) (FrameSource, error) {
	args, err := ffmpeg.BuildReaderArgs(ffmpeg.ReaderSpec{
		Source:    target.Source,
		Width:     target.Width,
		Height:    target.Height,
		Framerate: target.Framerate,
		Timeout:   d.socketTimeout(),
	})
	if err != nil {
		return nil, err
	}
	proc, err := ffmpeg.Start(ctx, ffmpeg.Options{
		Bin:         d.Bin,
		Args:        args,
		Role:        "reader",
		Stdout:      true,
		StderrLines: 32,
		Logger:      d.Logger,
	})
	if err != nil {
		return nil, err
	}

	src := newFFmpegSource(proc, d.stallTimeout())
	timer := time.NewTimer(d.connectTimeout())
	defer timer.Stop()

	select {
	case fr := <-src.frames:
		if fr.err != nil {
			_ = src.Close()
			stderr := proc.Stderr(32)
			if ffmpeg.IsAuthFailure(stderr) {
				return nil, fmt.Errorf("%w: %s", ErrUnauthorized, lastLine(stderr))
			}
			return nil, fmt.Errorf("open stream: %w: %s", fr.err, lastLine(stderr))
		}
		src.first = fr.img
		return src, nil
	case <-timer.C:
		_ = src.Close()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		_ = src.Close()
		return nil, ctx.Err()
	}
}

func (d *FFmpegDialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return 15 * time.Second
}

func (d *FFmpegDialer) stallTimeout() time.Duration {
	if d.StallTimeout > 0 {
		return d.StallTimeout
	}
	return 10 * time.Second
}

func (d *FFmpegDialer) socketTimeout() time.Duration {
	if d.SocketTimeout > 0 {
		return d.SocketTimeout
	}
	return 5 * time.Second
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return "no output"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

type frameResult struct {
	img *image.RGBA
	err error
}

type ffmpegSource struct {
	proc  *ffmpeg.Process
	stall time.Duration
	first *image.RGBA

	frames   chan frameResult
	quit     chan struct{}
	pumpDone chan struct{}
	once     sync.Once
}

func newFFmpegSource(proc *ffmpeg.Process, stall time.Duration) *ffmpegSource {
	s := &ffmpegSource{
		proc:     proc,
		stall:    stall,
		frames:   make(chan frameResult, 1),
		quit:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump(ffmpeg.NewBMPReader(proc.Stdout(), 0))
	return s
}

func (s *ffmpegSource) pump(r *ffmpeg.BMPReader) {
	defer close(s.pumpDone)
	for {
		img, err := r.Next()
		select {
		case s.frames <- frameResult{img: img, err: err}:
		case <-s.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *ffmpegSource) Next() (*image.RGBA, error) {
	if img := s.first; img != nil {
		s.first = nil
		return img, nil
	}
	timer := time.NewTimer(s.stall)
	defer timer.Stop()
	select {
	case fr := <-s.frames:
		return fr.img, fr.err
	case <-s.quit:
		return nil, fmt.Errorf("stream closed")
	case <-timer.C:
		return nil, ErrStalled
	}
}

// Close kills the decoder; readers hold no output file, so no graceful
// shutdown is needed.
func (s *ffmpegSource) Close() error {
	s.once.Do(func() {
		close(s.quit)
		_ = s.proc.Kill()
		<-s.proc.Done()
		_ = s.proc.Stop(0)
		<-s.pumpDone
	})
	return nil
}
