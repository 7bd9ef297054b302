// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline runs the per-camera processing loop.
//
// One goroutine per camera pulls the newest frame from the stream reader,
// resizes and rotates it, scores motion, draws the overlay, drives the
// recording controller, keeps the pre-roll ring and refreshes the live
// preview. The detector, tracker, recorder and pre-roll ring are owned by
// that goroutine; other goroutines talk to the pipeline only through Update,
// TakeSnapshot, Frame and Status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/imaging"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/ManuGH/vigil/internal/motion"
	"github.com/ManuGH/vigil/internal/preview"
	"github.com/ManuGH/vigil/internal/recorder"
	"github.com/ManuGH/vigil/internal/stream"
	"github.com/rs/zerolog"
)

const (
	DefaultEventBuffer         = 64
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultJoinTimeout         = 5 * time.Second
)

var (
	// ErrStopped is returned by operations on a pipeline that has exited.
	ErrStopped = errors.New("pipeline stopped")
	// ErrNoFrame is returned when a snapshot is requested before any frame.
	ErrNoFrame = errors.New("no frame available")
)

// Reader is the stream reader contract the loop depends on.
type Reader interface {
	Start(ctx context.Context)
	Latest() (stream.Frame, bool)
	Health() camera.Health
	UpdateTarget(t stream.Target)
	ForceReconnect()
	Stop()
	Done() <-chan struct{}
}

// Deps are the engine-level collaborators of a pipeline.
type Deps struct {
	// NewReader builds the stream reader for the initial target.
	NewReader           func(cameraID string, t stream.Target) Reader
	Recorder            recorder.Settings
	EventBuffer         int
	HealthCheckInterval time.Duration
	JoinTimeout         time.Duration
	Now                 func() time.Time
}

// Status is a point-in-time debug view of a camera.
type Status struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Alive               bool          `json:"alive"`
	Health              camera.Health `json:"health"`
	Connected           bool          `json:"connected"`
	FPS                 float64       `json:"fps"`
	Motion              bool          `json:"motion"`
	Recording           bool          `json:"recording"`
	Strategy            string        `json:"strategy,omitempty"`
	RecordingPath       string        `json:"recording_path,omitempty"`
	PassthroughFailures int           `json:"passthrough_failures"`
	LastFrameAt         time.Time     `json:"last_frame_at"`
	LastFrameWidth      int           `json:"last_frame_width"`
	LastFrameHeight     int           `json:"last_frame_height"`
	PreviewBytes        int           `json:"preview_bytes"`
}

type pendingUpdate struct {
	cfg    camera.Config
	change camera.Change
	set    bool
}

type snapshotRequest struct {
	reply chan snapshotResult
}

type snapshotResult struct {
	path string
	err  error
}

// Pipeline is the processing loop of one camera.
type Pipeline struct {
	id     string
	deps   Deps
	logger zerolog.Logger
	reader Reader
	view   *preview.Buffer
	events chan camera.Event

	mu        sync.Mutex
	cfg       camera.Config
	pending   pendingUpdate
	snapshots []snapshotRequest
	status    Status

	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}

	// loop-owned state
	loopCfg       camera.Config
	detector      *motion.Detector
	tracker       *motion.Tracker
	rec           *recorder.Controller
	ring          *preroll
	lastCaptured  time.Time
	frameCount    int
	detectCount   int
	lastHealth    camera.Health
	nextHealthAt  time.Time
	fpsWindowAt   time.Time
	fpsWindowN    int
	fps           float64
	lastFrameSize image.Point
	lastImage     *image.RGBA
	detectorIdle  bool
}

// New builds a stopped pipeline for a validated config.
func New(cfg camera.Config, deps Deps) *Pipeline {
	cfg = cfg.WithDefaults()
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = DefaultEventBuffer
	}
	if deps.HealthCheckInterval <= 0 {
		deps.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if deps.JoinTimeout <= 0 {
		deps.JoinTimeout = DefaultJoinTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	p := &Pipeline{
		id:         cfg.ID,
		deps:       deps,
		logger:     log.WithCamera("pipeline", cfg.ID),
		view:       preview.NewBuffer(preview.WithClock(deps.Now)),
		events:     make(chan camera.Event, deps.EventBuffer),
		cfg:        cfg,
		done:       make(chan struct{}),
		loopCfg:    cfg,
		lastHealth: camera.HealthConnected,
	}
	p.reader = deps.NewReader(cfg.ID, targetFor(cfg))
	p.detector = motion.NewDetector(cfg.MotionAnalysisHeight, cfg.Despeckle)
	p.tracker = motion.NewTracker(cfg.ThresholdRatio(), cfg.MinMotionFrames, gapFor(cfg))
	p.rec = recorder.New(cfg.ID, cfg, deps.Recorder)
	p.ring = newPreroll(prerollCapacity(cfg.PreCaptureSeconds, cfg.Framerate, cfg.PrerollThrottle), cfg.PrerollThrottle)
	p.status = Status{ID: cfg.ID, Name: cfg.Name, Health: camera.HealthStarting}
	return p
}

func targetFor(cfg camera.Config) stream.Target {
	return stream.Target{
		Source:    cfg.Source,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Framerate: cfg.Framerate,
	}
}

func gapFor(cfg camera.Config) time.Duration {
	return time.Duration(cfg.MotionGapSeconds) * time.Second
}

// ID returns the camera id.
func (p *Pipeline) ID() string { return p.id }

// Events is closed after the loop exits and all final events were queued.
func (p *Pipeline) Events() <-chan camera.Event { return p.events }

// Done is closed when the loop has fully shut down.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Config returns the current config snapshot.
func (p *Pipeline) Config() camera.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Start launches the reader and the processing loop.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.status.Alive = true
		p.mu.Unlock()
		p.reader.Start(ctx)
		go p.run(ctx)
	})
}

// Stop signals the loop to shut down. Wait on Done.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	// Never started: release what New allocated.
	p.startOnce.Do(func() {
		p.reader.Stop()
		p.view.Close()
		close(p.events)
		close(p.done)
	})
}

// Update merges cfg into the running snapshot. Reader side effects are
// applied immediately; the rest on the next loop iteration.
func (p *Pipeline) Update(next camera.Config) camera.Change {
	p.mu.Lock()
	merged, ch := camera.Merge(p.cfg, next)
	p.cfg = merged
	p.pending.cfg = merged
	p.pending.change = orChange(p.pending.change, ch)
	p.pending.set = true
	p.status.Name = merged.Name
	p.mu.Unlock()

	// Re-submitting an unchanged target clears an unauthorized reader.
	p.reader.UpdateTarget(targetFor(merged))
	if ch.Passthrough && !ch.Source && !ch.Capture {
		p.reader.ForceReconnect()
	}
	if ch.Any() {
		p.logger.Info().
			Str(log.FieldEvent, "pipeline.updated").
			Interface("change", ch).
			Msg("camera config updated")
	}
	return ch
}

func orChange(a, b camera.Change) camera.Change {
	return camera.Change{
		Source:       a.Source || b.Source,
		Passthrough:  a.Passthrough || b.Passthrough,
		Capture:      a.Capture || b.Capture,
		RecordingOff: a.RecordingOff || b.RecordingOff,
		Detection:    a.Detection || b.Detection,
		Preroll:      a.Preroll || b.Preroll,
	}
}

// Frame returns the live preview JPEG if it is fresh.
func (p *Pipeline) Frame() ([]byte, bool) {
	jpeg, _, ok := p.view.Get()
	return jpeg, ok
}

// Preview exposes the preview buffer for MJPEG streaming.
func (p *Pipeline) Preview() *preview.Buffer { return p.view }

// TakeSnapshot asks the loop to write a full resolution snapshot of the most
// recent processed frame and returns its path.
func (p *Pipeline) TakeSnapshot(ctx context.Context) (string, error) {
	req := snapshotRequest{reply: make(chan snapshotResult, 1)}
	p.mu.Lock()
	if !p.status.Alive {
		p.mu.Unlock()
		return "", ErrStopped
	}
	p.snapshots = append(p.snapshots, req)
	p.mu.Unlock()

	select {
	case res := <-req.reply:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return "", ErrStopped
	}
}

// Status returns the last published debug status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := p.status
	p.mu.Unlock()
	st.Health = p.reader.Health()
	st.Connected = st.Health == camera.HealthConnected
	st.PreviewBytes = p.view.Size()
	return st
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.events)
	defer p.shutdown()

	now := p.deps.Now()
	p.nextHealthAt = now.Add(p.deps.HealthCheckInterval)
	p.fpsWindowAt = now
	p.logger.Info().Str(log.FieldEvent, "pipeline.started").Msg("camera pipeline started")

	for ctx.Err() == nil {
		started := p.deps.Now()
		p.safeIterate(ctx, started)

		budget := time.Second / time.Duration(p.loopCfg.Framerate)
		if wait := budget - p.deps.Now().Sub(started); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

func (p *Pipeline) safeIterate(ctx context.Context, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncPipelinePanic(p.id, "pipeline")
			p.logger.Error().
				Str(log.FieldEvent, "pipeline.panic").
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("pipeline iteration panicked")
		}
	}()
	p.iterate(ctx, now)
}

// iterate runs one pass of the loop at now.
func (p *Pipeline) iterate(ctx context.Context, now time.Time) {
	p.applyPending(now)
	p.checkHealth(now)

	fr, ok := p.reader.Latest()
	if !ok || fr.Image == nil || !fr.CapturedAt.After(p.lastCaptured) {
		metrics.FramesSkippedTotal.WithLabelValues(p.id).Inc()
		p.idle(ctx, now)
	} else {
		p.lastCaptured = fr.CapturedAt
		p.process(ctx, fr, now)
	}
	p.serveSnapshots(now)
}

// process handles one new frame.
func (p *Pipeline) process(ctx context.Context, fr stream.Frame, now time.Time) {
	cfg := p.loopCfg
	p.frameCount++
	metrics.FramesProcessedTotal.WithLabelValues(p.id).Inc()

	img := p.transform(fr.Image, cfg)
	p.lastFrameSize = img.Bounds().Size()

	transition := p.detectMotion(img, cfg, now)

	if cfg.TextLeft != "" || cfg.TextRight != "" {
		imaging.DrawOverlay(img,
			camera.Expand(cfg.TextLeft, cfg.Name, now),
			camera.Expand(cfg.TextRight, cfg.Name, now),
			cfg.TextScale)
	}

	switch transition {
	case motion.Started:
		metrics.IncMotionEvent(p.id, "start")
		ev := camera.Event{CameraID: p.id, Type: camera.EventMotionStart, At: now}
		var snap *camera.Event
		if cfg.PictureMode == camera.PictureMotion {
			if s, err := recorder.WriteSnapshot(p.deps.Recorder.MediaRoot, cfg, img, now, "motion"); err != nil {
				p.logger.Warn().Err(err).Str(log.FieldEvent, "pipeline.snapshot_failed").Msg("motion snapshot failed")
			} else {
				ev.Path = s.Path
				snap = &s
			}
		}
		p.logger.Info().Str(log.FieldEvent, "motion.start").Msg("motion started")
		p.emit(ev)
		if snap != nil {
			p.emit(*snap)
		}
	case motion.Ended:
		p.emitMotionEnd(now)
	}

	wasRecording := p.rec.Recording()
	for _, ev := range p.rec.Step(ctx, img, p.tracker.State(), p.ring, cfg.PrerollThrottle, now) {
		p.emit(ev)
	}
	if !wasRecording && p.rec.Recording() {
		p.ring.Clear()
	}
	if !p.rec.Recording() {
		p.ring.Offer(img)
	}

	p.lastImage = img

	if cfg.LiveViewFPSDivisor <= 1 || p.frameCount%cfg.LiveViewFPSDivisor == 0 {
		p.refreshPreview(img, cfg, fr.CapturedAt)
	}

	p.updateFPS(now)
	p.publishStatus(fr.CapturedAt)
}

// transform resizes and rotates. The result never aliases the reader's
// frame, so the overlay can draw on it.
func (p *Pipeline) transform(src *image.RGBA, cfg camera.Config) *image.RGBA {
	img := src
	b := src.Bounds()
	if cfg.Width > 0 && cfg.Height > 0 && (b.Dx() != cfg.Width || b.Dy() != cfg.Height) {
		img = imaging.Resize(src, cfg.Width, cfg.Height)
	}
	if cfg.Rotation != 0 {
		img = imaging.Rotate(img, cfg.Rotation)
	}
	if img == src {
		img = imaging.Clone(src)
	}
	return img
}

func (p *Pipeline) detectionEnabled(cfg camera.Config, now time.Time) bool {
	return cfg.RecordingMode != camera.RecordingOff && cfg.DetectionActive(now)
}

func (p *Pipeline) detectMotion(img *image.RGBA, cfg camera.Config, now time.Time) motion.Transition {
	if !p.detectionEnabled(cfg, now) {
		p.detectorIdle = true
		return p.tracker.ForceEnd()
	}
	if p.detectorIdle {
		// The background is stale after a pause.
		p.detector.Reset()
		p.detectorIdle = false
	}
	p.detectCount++
	if cfg.DetectEveryN > 1 && (p.detectCount-1)%cfg.DetectEveryN != 0 {
		return p.tracker.Expire(now)
	}
	return p.tracker.Observe(p.detector.Score(img), now)
}

// idle keeps motion and recording timers running while no new frame
// arrives so a dead stream does not hold a clip open.
func (p *Pipeline) idle(ctx context.Context, now time.Time) {
	ended := p.tracker.Expire(now) == motion.Ended
	if ended {
		p.emitMotionEnd(now)
	}
	if !ended && !p.rec.Recording() {
		return
	}
	for _, ev := range p.rec.Step(ctx, nil, p.tracker.State(), nil, 1, now) {
		p.emit(ev)
	}
	p.publishStatus(p.lastCaptured)
}

func (p *Pipeline) emitMotionEnd(now time.Time) {
	metrics.IncMotionEvent(p.id, "end")
	p.logger.Info().Str(log.FieldEvent, "motion.end").Msg("motion ended")
	p.emit(camera.Event{CameraID: p.id, Type: camera.EventMotionEnd, At: now})
}

func (p *Pipeline) applyPending(now time.Time) {
	p.mu.Lock()
	up := p.pending
	p.pending = pendingUpdate{}
	p.mu.Unlock()
	if !up.set {
		return
	}

	cfg, ch := up.cfg, up.change
	for _, ev := range p.rec.Configure(cfg, ch, now) {
		p.emit(ev)
	}
	if ch.RecordingOff && p.tracker.ForceEnd() == motion.Ended {
		p.emitMotionEnd(now)
	}
	if ch.Detection {
		p.detector = motion.NewDetector(cfg.MotionAnalysisHeight, cfg.Despeckle)
	}
	p.tracker.Configure(cfg.ThresholdRatio(), cfg.MinMotionFrames, gapFor(cfg))
	if ch.Preroll {
		p.ring = newPreroll(prerollCapacity(cfg.PreCaptureSeconds, cfg.Framerate, cfg.PrerollThrottle), cfg.PrerollThrottle)
	}
	p.loopCfg = cfg
}

// checkHealth reports reader health changes on the HealthCheckInterval
// cadence. A switch to Unauthorized is reported on the iteration it is seen.
func (p *Pipeline) checkHealth(now time.Time) {
	h := p.reader.Health()
	authFailed := h == camera.HealthUnauthorized && p.lastHealth != camera.HealthUnauthorized
	if !authFailed && now.Before(p.nextHealthAt) {
		return
	}
	p.nextHealthAt = now.Add(p.deps.HealthCheckInterval)

	// Starting is transient and never reported.
	if h == camera.HealthStarting || h == p.lastHealth {
		return
	}
	old := p.lastHealth
	p.lastHealth = h
	title, msg := h.Describe(p.loopCfg.Name)
	p.logger.Info().
		Str(log.FieldEvent, "pipeline.health_changed").
		Str(log.FieldOldState, old.String()).
		Str(log.FieldNewState, h.String()).
		Msg(title)
	p.emit(camera.Event{
		CameraID: p.id,
		Type:     camera.EventHealth,
		At:       now,
		Health:   h,
		Title:    title,
		Message:  msg,
	})
}

// serveSnapshots answers pending manual snapshot requests with the last
// processed frame.
func (p *Pipeline) serveSnapshots(now time.Time) {
	p.mu.Lock()
	reqs := p.snapshots
	p.snapshots = nil
	p.mu.Unlock()
	if len(reqs) == 0 {
		return
	}

	var ev camera.Event
	err := ErrNoFrame
	if p.lastImage != nil {
		ev, err = recorder.WriteSnapshot(p.deps.Recorder.MediaRoot, p.loopCfg, p.lastImage, now, "manual")
		if err == nil {
			p.emit(ev)
		} else {
			p.logger.Warn().Err(err).Str(log.FieldEvent, "pipeline.snapshot_failed").Msg("snapshot failed")
		}
	}
	for _, r := range reqs {
		r.reply <- snapshotResult{path: ev.Path, err: err}
	}
}

func (p *Pipeline) refreshPreview(img *image.RGBA, cfg camera.Config, capturedAt time.Time) {
	small := imaging.ResizeToHeight(img, cfg.LiveViewHeight)
	data, err := imaging.EncodeJPEG(small, cfg.LiveViewQuality)
	if err != nil {
		p.logger.Debug().Err(err).Str(log.FieldEvent, "pipeline.preview_failed").Msg("preview encode failed")
		return
	}
	p.view.Set(data, capturedAt)
}

func (p *Pipeline) updateFPS(now time.Time) {
	p.fpsWindowN++
	elapsed := now.Sub(p.fpsWindowAt)
	if elapsed < time.Second {
		return
	}
	p.fps = float64(p.fpsWindowN) / elapsed.Seconds()
	p.fpsWindowN = 0
	p.fpsWindowAt = now
	metrics.CameraFPS.WithLabelValues(p.id).Set(p.fps)
}

func (p *Pipeline) publishStatus(lastFrameAt time.Time) {
	sess, recording := p.rec.Session()
	detected := p.tracker.State().Detected
	p.mu.Lock()
	p.status.FPS = p.fps
	p.status.Motion = detected
	p.status.Recording = recording
	p.status.Strategy = string(sess.Strategy)
	p.status.RecordingPath = sess.Path
	p.status.PassthroughFailures = p.rec.PassthroughFailures()
	p.status.LastFrameAt = lastFrameAt
	p.status.LastFrameWidth = p.lastFrameSize.X
	p.status.LastFrameHeight = p.lastFrameSize.Y
	p.mu.Unlock()
}

// emit queues an event without blocking; a full channel drops it.
func (p *Pipeline) emit(ev camera.Event) {
	if ev.CameraID == "" {
		ev.CameraID = p.id
	}
	select {
	case p.events <- ev:
		metrics.IncEventEmitted(p.id, string(ev.Type))
	default:
		metrics.IncEventDropped(p.id, string(ev.Type))
		p.logger.Warn().
			Str(log.FieldEvent, "pipeline.event_dropped").
			Str("type", string(ev.Type)).
			Msg("event channel full, dropping event")
	}
}

// shutdown stops the reader with a bounded join, closes any recording and
// ends an active motion.
func (p *Pipeline) shutdown() {
	now := p.deps.Now()
	p.reader.Stop()
	timer := time.NewTimer(p.deps.JoinTimeout)
	select {
	case <-p.reader.Done():
	case <-timer.C:
		p.logger.Warn().
			Str(log.FieldEvent, "pipeline.reader_join_timeout").
			Dur("timeout", p.deps.JoinTimeout).
			Msg("stream reader did not stop in time")
	}
	timer.Stop()

	for _, ev := range p.rec.Stop(now) {
		p.emit(ev)
	}
	if p.tracker.ForceEnd() == motion.Ended {
		p.emitMotionEnd(now)
	}

	p.mu.Lock()
	reqs := p.snapshots
	p.snapshots = nil
	p.status.Alive = false
	p.status.Recording = false
	p.mu.Unlock()
	for _, r := range reqs {
		r.reply <- snapshotResult{err: ErrStopped}
	}

	p.view.Close()
	p.logger.Info().Str(log.FieldEvent, "pipeline.stopped").Msg("camera pipeline stopped")
}

// String identifies the pipeline in logs.
func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline(%s)", p.id)
}
