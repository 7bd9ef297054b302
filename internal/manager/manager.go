// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager keeps the table of running camera pipelines and forwards
// their events to the notifier.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/ManuGH/vigil/internal/pipeline"
	"github.com/ManuGH/vigil/internal/preview"
	"github.com/rs/zerolog"
)

// DefaultStopTimeout bounds how long Stop waits for a pipeline to exit.
const DefaultStopTimeout = 15 * time.Second

// ErrCameraUnavailable is returned for unknown or stopped cameras.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Notifier receives every pipeline event. Notify must not block.
type Notifier interface {
	Notify(ev camera.Event)
}

// Options configures a Manager.
type Options struct {
	// Pipeline is the dependency template for every camera.
	Pipeline    pipeline.Deps
	Notifier    Notifier
	StopTimeout time.Duration
	Logger      *zerolog.Logger
}

type entry struct {
	p       *pipeline.Pipeline
	drained chan struct{}
}

// Manager owns the id to pipeline map. The mutex only guards map access;
// pipeline calls happen outside it.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cameras map[string]*entry
	closed  bool
}

// New returns an empty manager. Pipelines run on a context owned by the
// manager, never on a request context.
func New(opts Options) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	m := &Manager{
		opts:    opts,
		cameras: make(map[string]*entry),
	}
	if opts.Logger != nil {
		m.logger = *opts.Logger
	} else {
		m.logger = log.WithComponent("manager")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start runs a pipeline for cfg. Starting a running camera updates it.
func (m *Manager) Start(cfg camera.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("manager stopped: %w", ErrCameraUnavailable)
	}
	if e, ok := m.cameras[cfg.ID]; ok {
		m.mu.Unlock()
		m.update(e, cfg)
		return nil
	}
	p := pipeline.New(cfg, m.opts.Pipeline)
	e := &entry{p: p, drained: make(chan struct{})}
	m.cameras[cfg.ID] = e
	metrics.CamerasRunning.Set(float64(len(m.cameras)))
	m.mu.Unlock()

	go m.drain(e)
	p.Start(m.ctx)
	m.logger.Info().
		Str(log.FieldEvent, "manager.camera_started").
		Str(log.FieldCameraID, cfg.ID).
		Msg("camera started")
	return nil
}

// Update applies cfg to a running camera, or starts it.
func (m *Manager) Update(cfg camera.Config) error {
	return m.Start(cfg)
}

func (m *Manager) update(e *entry, cfg camera.Config) {
	ch := e.p.Update(cfg)
	m.logger.Info().
		Str(log.FieldEvent, "manager.camera_updated").
		Str(log.FieldCameraID, cfg.ID).
		Bool("reconnect", ch.NeedsReconnect()).
		Msg("camera updated")
}

// Stop signals the camera to shut down, removes it and waits a bounded time
// for it to exit.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	e, ok := m.cameras[id]
	if ok {
		delete(m.cameras, id)
		metrics.CamerasRunning.Set(float64(len(m.cameras)))
	}
	m.mu.Unlock()
	if !ok {
		return ErrCameraUnavailable
	}
	m.join(id, e)
	return nil
}

func (m *Manager) join(id string, e *entry) {
	e.p.Stop()
	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-e.drained:
		metrics.ForgetCamera(id)
		m.logger.Info().
			Str(log.FieldEvent, "manager.camera_stopped").
			Str(log.FieldCameraID, id).
			Msg("camera stopped")
	case <-timer.C:
		m.logger.Warn().
			Str(log.FieldEvent, "manager.stop_timeout").
			Str(log.FieldCameraID, id).
			Dur("timeout", m.opts.StopTimeout).
			Msg("camera did not stop in time, abandoning")
	}
}

// drain forwards events until the pipeline closes its channel.
func (m *Manager) drain(e *entry) {
	defer close(e.drained)
	for ev := range e.p.Events() {
		m.forward(ev)
	}
}

func (m *Manager) forward(ev camera.Event) {
	logger := m.logger.With().Str(log.FieldCameraID, ev.CameraID).Logger()
	if ev.Type == camera.EventRecordingStart {
		logger.Info().
			Str(log.FieldEvent, "manager.recording_started").
			Str(log.FieldPath, ev.Path).
			Msg("recording started")
	} else {
		logger.Debug().
			Str(log.FieldEvent, "manager.event").
			Str("type", string(ev.Type)).
			Msg("forwarding camera event")
	}
	if m.opts.Notifier != nil {
		m.opts.Notifier.Notify(ev)
	}
}

func (m *Manager) lookup(id string) (*pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cameras[id]
	if !ok {
		return nil, ErrCameraUnavailable
	}
	return e.p, nil
}

// Frame returns the current preview JPEG of a camera.
func (m *Manager) Frame(id string) ([]byte, error) {
	p, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	data, ok := p.Frame()
	if !ok {
		return nil, ErrCameraUnavailable
	}
	return data, nil
}

// Preview returns the preview buffer for MJPEG streaming.
func (m *Manager) Preview(id string) (*preview.Buffer, error) {
	p, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.Preview(), nil
}

// Snapshot writes a full resolution snapshot and returns its path.
func (m *Manager) Snapshot(ctx context.Context, id string) (string, error) {
	p, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	path, err := p.TakeSnapshot(ctx)
	if errors.Is(err, pipeline.ErrStopped) || errors.Is(err, pipeline.ErrNoFrame) {
		return "", fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	return path, err
}

// Status returns the debug status of every camera, sorted by id.
func (m *Manager) Status() []pipeline.Status {
	m.mu.Lock()
	ps := make([]*pipeline.Pipeline, 0, len(m.cameras))
	for _, e := range m.cameras {
		ps = append(ps, e.p)
	}
	m.mu.Unlock()

	out := make([]pipeline.Status, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the running camera ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cameras))
	for id := range m.cameras {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Config returns the running config of a camera.
func (m *Manager) Config(id string) (camera.Config, error) {
	p, err := m.lookup(id)
	if err != nil {
		return camera.Config{}, err
	}
	return p.Config(), nil
}

// StopAll stops every camera concurrently and refuses new starts. It returns
// ctx.Err() if ctx ends before all cameras were joined.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := m.cameras
	m.cameras = make(map[string]*entry)
	metrics.CamerasRunning.Set(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			m.join(id, e)
		}(id, e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
