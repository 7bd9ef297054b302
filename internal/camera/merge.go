// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

// Change lists the side effects a config update requires from the running
// pipeline. Fields not covered here take effect on the next loop iteration.
type Change struct {
	// Source: reader must switch address (clears frame, health back to Starting).
	Source bool
	// Passthrough: stop the active recording, reset the passthrough failure
	// counter and force a stream reconnect.
	Passthrough bool
	// Capture: width, height or framerate changed; the stream is renegotiated.
	Capture bool
	// RecordingOff: recording mode switched to off; stop recording, end motion.
	RecordingOff bool
	// Detection: detector tuning changed; the background model is reset.
	Detection bool
	// Preroll: pre-capture sizing changed; the ring is resized.
	Preroll bool
}

// Any reports whether the update requires any side effect.
func (c Change) Any() bool {
	return c.Source || c.Passthrough || c.Capture || c.RecordingOff || c.Detection || c.Preroll
}

// NeedsReconnect reports whether the stream reader has to reconnect.
func (c Change) NeedsReconnect() bool {
	return c.Source || c.Passthrough || c.Capture
}

// Merge folds an update into the running snapshot. The id never changes;
// every other field is taken from next, with defaults applied.
func Merge(current, next Config) (Config, Change) {
	next.ID = current.ID
	next = next.WithDefaults()

	var ch Change
	if current.Source != next.Source {
		ch.Source = true
	}
	if current.Passthrough != next.Passthrough {
		ch.Passthrough = true
	}
	if current.Width != next.Width || current.Height != next.Height || current.Framerate != next.Framerate {
		ch.Capture = true
	}
	if current.RecordingMode != RecordingOff && next.RecordingMode == RecordingOff {
		ch.RecordingOff = true
	}
	if current.MotionThreshold != next.MotionThreshold ||
		current.MotionAnalysisHeight != next.MotionAnalysisHeight ||
		current.Despeckle != next.Despeckle ||
		current.Width != next.Width || current.Height != next.Height || current.Rotation != next.Rotation {
		ch.Detection = true
	}
	if current.PreCaptureSeconds != next.PreCaptureSeconds ||
		current.PrerollThrottle != next.PrerollThrottle ||
		current.Framerate != next.Framerate {
		ch.Preroll = true
	}
	return next, ch
}
