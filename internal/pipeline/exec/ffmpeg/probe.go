// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ProbeOutput is what a single ffprobe run reported.
type ProbeOutput struct {
	Err    error
	Stderr []string
}

// AuthRejected reports whether ffprobe output indicates rejected credentials.
func (o ProbeOutput) AuthRejected() bool {
	return IsAuthFailure(o.Stderr)
}

// Probe runs ffprobe against source and waits at most timeout for it.
func Probe(ctx context.Context, bin, source string, timeout time.Duration, logger zerolog.Logger) ProbeOutput {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	proc, err := Start(ctx, Options{
		Bin:         bin,
		Args:        BuildProbeArgs(source, timeout),
		Role:        "probe",
		StderrLines: 32,
		Grace:       time.Second,
		Logger:      &logger,
	})
	if err != nil {
		return ProbeOutput{Err: err}
	}

	timer := time.NewTimer(timeout + 2*time.Second)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-ctx.Done():
	case <-timer.C:
	}
	err = proc.Stop(0)
	return ProbeOutput{Err: err, Stderr: proc.Stderr(32)}
}
