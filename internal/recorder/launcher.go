// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"io"
	"time"

	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/rs/zerolog"
)

// Process is a running recording child process.
type Process interface {
	// Stdin is nil for strategies that do not feed frames.
	Stdin() io.WriteCloser
	Exited() bool
	Stop(timeout time.Duration) error
	Stderr(n int) []string
}

// Launcher starts recording processes.
type Launcher interface {
	Launch(ctx context.Context, role string, args []string, stdin bool) (Process, error)
}

// FFmpegLauncher launches ffmpeg child processes in their own process group.
type FFmpegLauncher struct {
	Bin    string
	Logger *zerolog.Logger
}

// Launch implements Launcher.
func (l *FFmpegLauncher) Launch(ctx context.Context, role string, args []string, stdin bool) (Process, error) {
	proc, err := ffmpeg.Start(ctx, ffmpeg.Options{
		Bin:         l.Bin,
		Args:        args,
		Role:        role,
		Stdin:       stdin,
		StderrLines: 50,
		Logger:      l.Logger,
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}
