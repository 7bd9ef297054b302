// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder decides when a camera records and drives the recording
// child process.
//
// Two strategies write files: passthrough copies the compressed camera stream
// untouched, encode pipes processed rgb24 frames into an h264 encoder. At most
// one session exists per camera. A passthrough process that dies on its own
// counts as a failure; past MaxPassthroughFailures the controller encodes
// until the passthrough setting is changed again.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/fsutil"
	"github.com/ManuGH/vigil/internal/imaging"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/ManuGH/vigil/internal/motion"
	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Strategy is how a session produces its file.
type Strategy string

const (
	StrategyPassthrough Strategy = "passthrough"
	StrategyEncode      Strategy = "encode"
)

const (
	DefaultMinRecordingBytes      = 4096
	DefaultMaxPassthroughFailures = 1
	DefaultStopTimeout            = 10 * time.Second
)

// maxPathSuffix bounds the numbered variants tried for a movie path taken
// within the same second before falling back to a random suffix.
const maxPathSuffix = 99

// ErrNoSession is returned when an operation needs an active recording.
var ErrNoSession = errors.New("no active recording")

// Preroll supplies the buffered frames flushed into a new encode session.
// Frames is only called when a session starts.
type Preroll interface {
	Frames() []*image.RGBA
}

// Settings are the engine-wide recording parameters.
type Settings struct {
	MediaRoot              string
	Encoder                ffmpeg.Encoder
	VAAPIDevice            string
	StopTimeout            time.Duration
	SourceTimeout          time.Duration
	MinRecordingBytes      int64
	MaxPassthroughFailures int
	Launcher               Launcher
	Logger                 *zerolog.Logger
}

// Session is the active recording.
type Session struct {
	Path      string
	StartedAt time.Time
	Strategy  Strategy
	Width     int
	Height    int
	Process   Process
	Frames    int
}

// Controller owns the recording state of one camera. It is driven from the
// pipeline goroutine and is not safe for concurrent use.
type Controller struct {
	cameraID string
	cfg      camera.Config
	settings Settings
	logger   zerolog.Logger

	session             *Session
	passthroughFailures int
	lastPath            string
	rgb                 []byte
}

// New returns an idle controller.
func New(cameraID string, cfg camera.Config, s Settings) *Controller {
	if s.MinRecordingBytes <= 0 {
		s.MinRecordingBytes = DefaultMinRecordingBytes
	}
	if s.MaxPassthroughFailures <= 0 {
		s.MaxPassthroughFailures = DefaultMaxPassthroughFailures
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.Encoder == "" {
		s.Encoder = ffmpeg.EncoderSoftware
	}
	c := &Controller{cameraID: cameraID, cfg: cfg, settings: s}
	if s.Logger != nil {
		c.logger = *s.Logger
	} else {
		c.logger = log.WithCamera("recorder", cameraID)
	}
	return c
}

// Session returns a copy of the active session.
func (c *Controller) Session() (Session, bool) {
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Recording reports whether a session is active.
func (c *Controller) Recording() bool { return c.session != nil }

// PassthroughFailures returns the consecutive passthrough crash count.
func (c *Controller) PassthroughFailures() int { return c.passthroughFailures }

// PassthroughEnabled reports whether the next session would use passthrough.
func (c *Controller) PassthroughEnabled() bool {
	return c.cfg.Passthrough && c.passthroughFailures <= c.settings.MaxPassthroughFailures
}

// Configure applies a merged config. Passthrough changes stop the session
// and re-arm passthrough; switching recording off stops the session.
func (c *Controller) Configure(cfg camera.Config, ch camera.Change, now time.Time) []camera.Event {
	var events []camera.Event
	if ch.Passthrough || ch.RecordingOff || (ch.Capture && c.session != nil && c.session.Strategy == StrategyPassthrough) {
		events = append(events, c.Stop(now)...)
	}
	if ch.Passthrough {
		c.passthroughFailures = 0
	}
	c.cfg = cfg
	return events
}

// ShouldRecord applies the recording rule to the current motion state.
func (c *Controller) ShouldRecord(st motion.State, now time.Time) bool {
	switch c.cfg.RecordingMode {
	case camera.RecordingAlways:
		return true
	case camera.RecordingMotion:
		if st.Detected {
			return true
		}
		if st.LastMotionAt.IsZero() {
			return false
		}
		return now.Sub(st.LastMotionAt) <= time.Duration(c.cfg.PostCaptureSeconds)*time.Second
	default:
		return false
	}
}

// Step runs the recording decision for one processed frame. preroll, which
// may be nil, is drained into a new encode session with each frame written
// throttle times. The returned events are in emission order.
func (c *Controller) Step(ctx context.Context, frame *image.RGBA, st motion.State, preroll Preroll, throttle int, now time.Time) []camera.Event {
	var events []camera.Event

	if c.session != nil && c.session.Strategy == StrategyPassthrough && c.session.Process.Exited() {
		c.passthroughBroken(now)
	}

	if c.session != nil && c.cfg.MaxClipSeconds > 0 &&
		now.Sub(c.session.StartedAt) > time.Duration(c.cfg.MaxClipSeconds)*time.Second {
		c.logger.Info().
			Str(log.FieldEvent, "recorder.clip_split").
			Str(log.FieldPath, c.session.Path).
			Msg("maximum clip length reached")
		return append(events, c.Stop(now)...)
	}

	if !c.ShouldRecord(st, now) {
		if c.session != nil {
			events = append(events, c.Stop(now)...)
		}
		return events
	}

	if c.session == nil {
		if frame == nil {
			return events
		}
		ev, err := c.start(ctx, frame, preroll, throttle, now)
		if err != nil {
			metrics.IncRecording(c.cameraID, string(c.nextStrategy()), "start_failed")
			c.logger.Error().
				Err(err).
				Str(log.FieldEvent, "recorder.start_failed").
				Msg("recording could not start")
			return events
		}
		return append(events, ev...)
	}

	if c.session.Strategy == StrategyEncode && frame != nil {
		if b := frame.Bounds(); b.Dx() != c.session.Width || b.Dy() != c.session.Height {
			c.logger.Info().
				Str(log.FieldEvent, "recorder.size_changed").
				Str(log.FieldResolution, fmt.Sprintf("%dx%d", b.Dx(), b.Dy())).
				Msg("frame size changed, closing clip")
			return append(events, c.Stop(now)...)
		}
		if err := c.writeFrame(frame, 1); err != nil {
			c.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "recorder.write_failed").
				Msg("encoder pipe write failed, stopping recording")
			return append(events, c.Stop(now)...)
		}
	}
	return events
}

func (c *Controller) nextStrategy() Strategy {
	if c.PassthroughEnabled() {
		return StrategyPassthrough
	}
	return StrategyEncode
}

func (c *Controller) start(ctx context.Context, frame *image.RGBA, preroll Preroll, throttle int, now time.Time) ([]camera.Event, error) {
	rel, err := camera.RenderFilename(c.cfg.MovieFilename, c.cfg.Name, now, ".mp4")
	if err != nil {
		return nil, err
	}
	path, err := fsutil.MediaFile(c.settings.MediaRoot, c.cameraID, rel)
	if err != nil {
		return nil, err
	}
	path = c.claimPath(path)

	strategy := c.nextStrategy()
	var (
		args          []string
		width, height int
		buffered      []*image.RGBA
	)
	if strategy == StrategyPassthrough {
		args, err = ffmpeg.BuildPassthroughArgs(ffmpeg.PassthroughSpec{
			Source:     c.cfg.Source,
			OutputPath: path,
			Timeout:    c.settings.SourceTimeout,
		})
		width, height = c.cfg.Width, c.cfg.Height
		if width == 0 || height == 0 {
			b := frame.Bounds()
			width, height = b.Dx(), b.Dy()
		}
	} else {
		b := frame.Bounds()
		width, height = b.Dx(), b.Dy()
		if preroll != nil {
			buffered = preroll.Frames()
		}
		args, err = ffmpeg.BuildEncodeArgs(ffmpeg.EncodeSpec{
			Width:       width,
			Height:      height,
			Framerate:   c.cfg.Framerate,
			Quality:     c.cfg.MovieQuality,
			Encoder:     c.settings.Encoder,
			VAAPIDevice: c.settings.VAAPIDevice,
			OutputPath:  path,
		})
	}
	if err != nil {
		return nil, err
	}

	proc, err := c.settings.Launcher.Launch(ctx, string(strategy), args, strategy == StrategyEncode)
	if err != nil {
		return nil, err
	}
	c.session = &Session{
		Path:      path,
		StartedAt: now,
		Strategy:  strategy,
		Width:     width,
		Height:    height,
		Process:   proc,
	}

	ev := c.logger.Info().
		Str(log.FieldEvent, "recorder.started").
		Str(log.FieldPath, path).
		Str(log.FieldStrategy, string(strategy))
	if strategy == StrategyEncode {
		ev = ev.Str(log.FieldEncoder, string(c.settings.Encoder)).Int("preroll_frames", len(buffered))
	}
	ev.Msg("recording started")

	events := []camera.Event{{
		CameraID: c.cameraID,
		Type:     camera.EventRecordingStart,
		At:       now,
		Path:     path,
		Width:    width,
		Height:   height,
	}}

	if strategy == StrategyEncode {
		if throttle < 1 {
			throttle = 1
		}
		for _, img := range buffered {
			if img == nil || img.Bounds().Dx() != width || img.Bounds().Dy() != height {
				continue
			}
			if err := c.writeFrame(img, throttle); err != nil {
				c.logger.Warn().Err(err).Str(log.FieldEvent, "recorder.write_failed").Msg("pre-roll write failed")
				return append(events, c.Stop(now)...), nil
			}
		}
		if err := c.writeFrame(frame, 1); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldEvent, "recorder.write_failed").Msg("frame write failed")
			return append(events, c.Stop(now)...), nil
		}
	}
	return events, nil
}

// claimPath returns path, or a numbered variant of it when a file of that
// name exists or the previous session used it. Templates resolve to the
// second, so back-to-back sessions can render the same name.
func (c *Controller) claimPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := path
	for i := 1; c.pathTaken(candidate); i++ {
		if i > maxPathSuffix {
			candidate = base + "-" + uuid.NewString()[:8] + ext
			break
		}
		candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	c.lastPath = candidate
	return candidate
}

func (c *Controller) pathTaken(path string) bool {
	if path == c.lastPath {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}

func (c *Controller) writeFrame(img *image.RGBA, repeat int) error {
	if c.session == nil {
		return ErrNoSession
	}
	w := c.session.Process.Stdin()
	if w == nil {
		return fmt.Errorf("encoder has no stdin")
	}
	if c.session.Process.Exited() {
		return ffmpeg.ErrProcessExited
	}
	c.rgb = imaging.AppendRGB24(c.rgb[:0], img)
	for i := 0; i < repeat; i++ {
		if _, err := w.Write(c.rgb); err != nil {
			return err
		}
		c.session.Frames++
	}
	return nil
}

// passthroughBroken handles a passthrough process that exited by itself.
// No completion event is emitted; a file too small to play is removed.
func (c *Controller) passthroughBroken(now time.Time) {
	s := c.session
	c.session = nil
	_ = s.Process.Stop(0)
	c.passthroughFailures++

	size := fileSize(s.Path)
	if size <= c.settings.MinRecordingBytes {
		_ = os.Remove(s.Path)
	}
	metrics.IncRecording(c.cameraID, string(StrategyPassthrough), "broken")
	if c.passthroughFailures > c.settings.MaxPassthroughFailures {
		metrics.IncPassthroughFallback(c.cameraID)
	}
	c.logger.Warn().
		Str(log.FieldEvent, "recorder.passthrough_broken").
		Str(log.FieldPath, s.Path).
		Int("failures", c.passthroughFailures).
		Bool("fallback_to_encode", !c.PassthroughEnabled()).
		Dur("ran_for", now.Sub(s.StartedAt)).
		Strs("stderr", s.Process.Stderr(5)).
		Msg("passthrough recording exited unexpectedly")
}

// Stop ends the active session and validates the file. recording_end is
// emitted only for files larger than MinRecordingBytes; smaller files are
// deleted.
func (c *Controller) Stop(now time.Time) []camera.Event {
	if c.session == nil {
		return nil
	}
	if c.session.Strategy == StrategyPassthrough && c.session.Process.Exited() {
		c.passthroughBroken(now)
		return nil
	}

	s := c.session
	c.session = nil

	timeout := c.settings.StopTimeout
	if s.Strategy == StrategyPassthrough {
		timeout = 0
	}
	if err := s.Process.Stop(timeout); err != nil {
		c.logger.Debug().
			Err(err).
			Str(log.FieldEvent, "recorder.process_exit").
			Msg("recording process exit status")
	}

	size := fileSize(s.Path)
	metrics.RecordingBytes.WithLabelValues(string(s.Strategy)).Observe(float64(size))
	if size <= c.settings.MinRecordingBytes {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str(log.FieldPath, s.Path).Msg("could not remove short recording")
		}
		metrics.IncRecording(c.cameraID, string(s.Strategy), "discarded")
		c.logger.Info().
			Str(log.FieldEvent, "recorder.discarded").
			Str(log.FieldPath, s.Path).
			Int64("bytes", size).
			Msg("recording too small, discarded")
		return nil
	}

	if s.Strategy == StrategyPassthrough {
		c.passthroughFailures = 0
	}
	metrics.IncRecording(c.cameraID, string(s.Strategy), "completed")
	c.logger.Info().
		Str(log.FieldEvent, "recorder.finished").
		Str(log.FieldPath, s.Path).
		Int64("bytes", size).
		Dur("duration", now.Sub(s.StartedAt)).
		Msg("recording finished")
	return []camera.Event{{
		CameraID: c.cameraID,
		Type:     camera.EventRecordingEnd,
		At:       now,
		Path:     s.Path,
		Width:    s.Width,
		Height:   s.Height,
	}}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
