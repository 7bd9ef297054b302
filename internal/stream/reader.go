// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream keeps one camera connected and caches its latest frame.
//
// The reader runs a reconnect loop on its own goroutine. Unreachable sources
// back off along a fixed schedule; sources that reject credentials are parked
// as unauthorized and never retried until reconfigured. The frame cell and
// health state share one mutex that is never held across I/O.
package stream

import (
	"context"
	"errors"
	"image"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/rs/zerolog"
)

// Options configures a Reader.
type Options struct {
	CameraID    string
	Dialer      Dialer
	Prober      Prober
	Backoff     []time.Duration
	AuthRecheck time.Duration
	Clock       Clock
	Logger      *zerolog.Logger
}

// Reader maintains the connection to one camera.
type Reader struct {
	cameraID    string
	dialer      Dialer
	prober      Prober
	backoff     []time.Duration
	authRecheck time.Duration
	clock       Clock
	logger      zerolog.Logger

	mu       sync.Mutex
	target   Target
	gen      uint64
	health   camera.Health
	frame    Frame
	hasFrame bool
	active   FrameSource

	// owned by the loop goroutine
	failures int
	lastGen  uint64

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
}

// NewReader creates a stopped reader in the Starting state.
func NewReader(target Target, opts Options) *Reader {
	r := &Reader{
		cameraID:    opts.CameraID,
		dialer:      opts.Dialer,
		prober:      opts.Prober,
		backoff:     opts.Backoff,
		authRecheck: opts.AuthRecheck,
		clock:       opts.Clock,
		target:      target,
		health:      camera.HealthStarting,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if len(r.backoff) == 0 {
		r.backoff = DefaultBackoff
	}
	if r.authRecheck <= 0 {
		r.authRecheck = DefaultAuthRecheck
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	if r.prober == nil {
		r.prober = ProberChain(nil)
	}
	if opts.Logger != nil {
		r.logger = *opts.Logger
	} else {
		r.logger = log.WithCamera("reader", opts.CameraID)
	}
	metrics.SetCameraHealth(r.cameraID, camera.HealthStarting.String())
	return r
}

// Start launches the reconnect loop. Calls after the first are no-ops.
func (r *Reader) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.cancelMu.Lock()
		r.cancel = cancel
		r.cancelMu.Unlock()
		go r.run(ctx)
	})
}

// Stop signals the loop to exit and unblocks any pending read. Wait on Done.
func (r *Reader) Stop() {
	started := true
	r.startOnce.Do(func() {
		started = false
		close(r.done)
	})
	if !started {
		return
	}
	r.cancelMu.Lock()
	cancel := r.cancel
	r.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.closeActive()
}

// Done is closed when the loop has exited.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Latest returns the newest frame without blocking.
func (r *Reader) Latest() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame, r.hasFrame
}

// Health returns the current connection state.
func (r *Reader) Health() camera.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

// Target returns the current connection target.
func (r *Reader) Target() Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// UpdateSourceAddress points the reader at a new URL, keeping capture
// parameters. Re-submitting the same URL while unauthorized retries it.
func (r *Reader) UpdateSourceAddress(source string) {
	t := r.Target()
	t.Source = source
	r.UpdateTarget(t)
}

// UpdateTarget applies a new target. A changed target tears down the
// current connection and reconnects immediately; an unchanged one only
// clears the unauthorized state.
func (r *Reader) UpdateTarget(t Target) {
	r.mu.Lock()
	changed := t != r.target
	if !changed && r.health != camera.HealthUnauthorized {
		r.mu.Unlock()
		return
	}
	r.target = t
	old, moved := r.reconnectLocked()
	r.mu.Unlock()

	r.logTransition(old, camera.HealthStarting, moved)
	r.closeActive()
	r.signal()
	r.logger.Info().
		Str(log.FieldEvent, "reader.target_updated").
		Str(log.FieldSource, config.MaskURL(t.Source)).
		Bool("changed", changed).
		Msg("stream target updated")
}

// ForceReconnect drops the current connection and clears the unauthorized
// state.
func (r *Reader) ForceReconnect() {
	r.mu.Lock()
	old, moved := r.reconnectLocked()
	r.mu.Unlock()

	r.logTransition(old, camera.HealthStarting, moved)
	r.closeActive()
	r.signal()
}

func (r *Reader) reconnectLocked() (camera.Health, bool) {
	r.gen++
	old := r.health
	if old == camera.HealthStarting {
		return old, false
	}
	r.transitionLocked(camera.HealthStarting)
	return old, true
}

func (r *Reader) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reader) closeActive() {
	r.mu.Lock()
	src := r.active
	r.active = nil
	r.mu.Unlock()
	if src != nil {
		_ = src.Close()
	}
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.done)
	defer r.closeActive()

	r.logger.Info().Str(log.FieldEvent, "reader.started").Msg("stream reader started")
	for ctx.Err() == nil {
		r.iterate(ctx)
	}
	r.logger.Info().Str(log.FieldEvent, "reader.stopped").Msg("stream reader stopped")
}

func (r *Reader) iterate(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncPipelinePanic(r.cameraID, "reader")
			r.logger.Error().
				Str(log.FieldEvent, "reader.panic").
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("reader iteration panicked")
			r.wait(ctx, time.Second)
		}
	}()

	if r.Health() == camera.HealthUnauthorized {
		r.wait(ctx, r.authRecheck)
		return
	}

	target, gen := r.snapshot()
	if gen != r.lastGen {
		r.lastGen = gen
		r.failures = 0
	}

	src, err := r.dialer.Dial(ctx, target)
	if err != nil {
		if ctx.Err() != nil || r.generation() != gen {
			return
		}
		r.handleDialFailure(ctx, target, gen, err)
		return
	}
	if !r.setActive(src, gen) {
		_ = src.Close()
		return
	}
	defer r.closeActive()

	r.failures = 0
	r.setHealth(gen, camera.HealthConnected)
	metrics.IncReaderConnect(r.cameraID, "ok")
	r.logger.Info().
		Str(log.FieldEvent, "reader.connected").
		Str(log.FieldSource, config.MaskURL(target.Source)).
		Msg("stream connected")

	for {
		img, err := src.Next()
		if err != nil {
			if ctx.Err() == nil && r.generation() == gen {
				metrics.IncReaderConnect(r.cameraID, "read_error")
				r.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "reader.read_failed").
					Msg("frame read failed, reconnecting")
			}
			return
		}
		if !r.store(gen, img) {
			return
		}
	}
}

func (r *Reader) handleDialFailure(ctx context.Context, target Target, gen uint64, err error) {
	verdict := VerdictUnauthorized
	if !errors.Is(err, ErrUnauthorized) {
		verdict = r.prober.Probe(ctx, target.Source)
	}
	if ctx.Err() != nil {
		return
	}

	if verdict == VerdictUnauthorized {
		metrics.IncReaderConnect(r.cameraID, "unauthorized")
		r.setHealth(gen, camera.HealthUnauthorized)
		r.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "reader.unauthorized").
			Str(log.FieldSource, config.MaskURL(target.Source)).
			Msg("camera rejected credentials, waiting for reconfiguration")
		return
	}

	r.failures++
	delay := Backoff(r.backoff, r.failures)
	metrics.IncReaderConnect(r.cameraID, "unreachable")
	r.setHealth(gen, camera.HealthUnreachable)
	r.logger.Warn().
		Err(err).
		Str(log.FieldEvent, "reader.unreachable").
		Str(log.FieldSource, config.MaskURL(target.Source)).
		Int(log.FieldAttempt, r.failures).
		Dur(log.FieldDelay, delay).
		Msg("camera unreachable, backing off")
	r.wait(ctx, delay)
}

// wait sleeps for d, returning early on cancel or reconfiguration.
func (r *Reader) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-r.wake:
	case <-r.clock.After(d):
	}
}

func (r *Reader) snapshot() (Target, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target, r.gen
}

func (r *Reader) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Reader) setActive(src FrameSource, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.active = src
	return true
}

func (r *Reader) store(gen uint64, img *image.RGBA) bool {
	if img == nil {
		return true
	}
	now := r.clock.Now()
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return false
	}
	r.frame = Frame{Image: img, CapturedAt: now}
	r.hasFrame = true
	old := r.health
	moved := old != camera.HealthConnected
	if moved {
		r.transitionLocked(camera.HealthConnected)
	}
	r.mu.Unlock()

	r.logTransition(old, camera.HealthConnected, moved)
	return true
}

func (r *Reader) setHealth(gen uint64, h camera.Health) {
	r.mu.Lock()
	old := r.health
	moved := r.gen == gen && old != h
	if moved {
		r.transitionLocked(h)
	}
	r.mu.Unlock()

	r.logTransition(old, h, moved)
}

func (r *Reader) transitionLocked(h camera.Health) {
	r.health = h
	metrics.SetCameraHealth(r.cameraID, h.String())
}

func (r *Reader) logTransition(old, h camera.Health, moved bool) {
	if !moved {
		return
	}
	r.logger.Debug().
		Str(log.FieldEvent, "reader.health").
		Str(log.FieldOldState, old.String()).
		Str(log.FieldNewState, h.String()).
		Msg("health changed")
}
