// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/pipeline"
	"github.com/ManuGH/vigil/internal/recorder"
	"github.com/ManuGH/vigil/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubReader struct {
	mu       sync.Mutex
	frame    stream.Frame
	targets  []stream.Target
	stopOnce sync.Once
	done     chan struct{}
}

func (r *stubReader) Start(context.Context) {}

func (r *stubReader) Latest() (stream.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame, r.frame.Image != nil
}

func (r *stubReader) Health() camera.Health { return camera.HealthConnected }

func (r *stubReader) UpdateTarget(t stream.Target) {
	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()
}

func (r *stubReader) ForceReconnect()       {}
func (r *stubReader) Stop()                 { r.stopOnce.Do(func() { close(r.done) }) }
func (r *stubReader) Done() <-chan struct{} { return r.done }

type recordingNotifier struct {
	mu     sync.Mutex
	events []camera.Event
}

func (n *recordingNotifier) Notify(ev camera.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []camera.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []camera.EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	m        *Manager
	notifier *recordingNotifier
	mu       sync.Mutex
	readers  map[string]*stubReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{notifier: &recordingNotifier{}, readers: map[string]*stubReader{}}
	f.m = New(Options{
		Pipeline: pipeline.Deps{
			NewReader: func(id string, _ stream.Target) pipeline.Reader {
				r := &stubReader{done: make(chan struct{})}
				r.frame = stream.Frame{Image: image.NewRGBA(image.Rect(0, 0, 32, 24)), CapturedAt: time.Now()}
				f.mu.Lock()
				f.readers[id] = r
				f.mu.Unlock()
				return r
			},
			Recorder: recorder.Settings{MediaRoot: t.TempDir()},
		},
		Notifier:    f.notifier,
		StopTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { _ = f.m.StopAll(context.Background()) })
	return f
}

func (f *fixture) reader(id string) *stubReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readers[id]
}

func cameraConfig(id string) camera.Config {
	return camera.Config{
		ID:            id,
		Source:        "rtsp://10.0.0.5/" + id,
		Framerate:     20,
		RecordingMode: camera.RecordingOff,
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.Start(cameraConfig("front")))
	require.NoError(t, f.m.Start(cameraConfig("front")))
	assert.Equal(t, []string{"front"}, f.m.IDs())
	assert.Len(t, f.reader("front").targets, 1, "second start routed to update")

	cfg := cameraConfig("front")
	cfg.Source = "rtsp://10.0.0.9/front"
	require.NoError(t, f.m.Update(cfg))
	got, err := f.m.Config("front")
	require.NoError(t, err)
	assert.Equal(t, cfg.Source, got.Source)
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	err := f.m.Start(camera.Config{ID: "../x", Source: "ftp://nope"})
	assert.ErrorIs(t, err, camera.ErrInvalidConfig)
	assert.Empty(t, f.m.IDs())
}

func TestManager_UnknownCamera(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.m.Stop("ghost"), ErrCameraUnavailable)
	_, err := f.m.Frame("ghost")
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	_, err = f.m.Snapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	_, err = f.m.Preview("ghost")
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}

func TestManager_SnapshotEventIsForwarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(cameraConfig("front")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := f.m.Snapshot(ctx, "front")
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, f.m.Stop("front"))
	assert.Contains(t, f.notifier.types(), camera.EventSnapshotSave)
	assert.Empty(t, f.m.IDs())
}

func TestManager_StatusSorted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(cameraConfig("yard")))
	require.NoError(t, f.m.Start(cameraConfig("front")))

	st := f.m.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "front", st[0].ID)
	assert.Equal(t, "yard", st[1].ID)
	assert.True(t, st[0].Alive)
}

func TestManager_Reconcile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(cameraConfig("front")))
	require.NoError(t, f.m.Start(cameraConfig("yard")))
	require.NoError(t, f.m.Start(cameraConfig("garage")))

	changed := cameraConfig("yard")
	changed.Name = "Back Yard"
	res, err := f.m.Reconcile([]camera.Config{
		cameraConfig("front"),
		changed,
		cameraConfig("porch"),
		{ID: "bad", Source: "nope"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, camera.ErrInvalidConfig)

	assert.Equal(t, []string{"porch"}, res.Started)
	assert.Equal(t, []string{"yard"}, res.Updated)
	assert.Equal(t, []string{"garage"}, res.Stopped)
	assert.Equal(t, []string{"front"}, res.Unchanged)
	assert.Equal(t, []string{"front", "porch", "yard"}, f.m.IDs())
	assert.Empty(t, f.reader("front").targets, "unchanged camera untouched")
}

func TestManager_StopAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New(Options{
		Pipeline: pipeline.Deps{
			NewReader: func(string, stream.Target) pipeline.Reader {
				return &stubReader{done: make(chan struct{})}
			},
		},
	})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Start(cameraConfig(id)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(ctx))
	assert.Empty(t, m.IDs())
	assert.ErrorIs(t, m.Start(cameraConfig("a")), ErrCameraUnavailable)
}
