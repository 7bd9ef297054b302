// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/manager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeFleet struct {
	mu      sync.Mutex
	calls   [][]string
	stopped bool
	order   *[]string
}

func (f *fakeFleet) Reconcile(cfgs []camera.Config) (manager.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(cfgs))
	for _, c := range cfgs {
		ids = append(ids, c.ID)
	}
	f.calls = append(f.calls, ids)
	return manager.ReconcileResult{Started: ids}, nil
}

func (f *fakeFleet) StopAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.order != nil {
		*f.order = append(*f.order, "cameras")
	}
	return nil
}

func (f *fakeFleet) reconciled() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

type hookFunc func(ctx context.Context) error

func (h hookFunc) Wait(ctx context.Context) error     { return h(ctx) }
func (h hookFunc) Shutdown(ctx context.Context) error { return h(ctx) }

func baseConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.ShutdownTimeout = 5 * time.Second
	cfg.Cameras = []camera.Config{{ID: "front", Source: "rtsp://10.0.0.5/front"}}
	return cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func waitForAddr(t *testing.T, a *App) string {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		if ad := a.Addr(); ad != nil {
			addr = ad.String()
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return addr
}

func TestNewApp_RequiresDeps(t *testing.T) {
	_, err := NewApp(Deps{APIHandler: okHandler()})
	assert.ErrorIs(t, err, ErrMissingCameras)

	_, err = NewApp(Deps{Cameras: &fakeFleet{}})
	assert.ErrorIs(t, err, ErrMissingAPIHandler)
}

func TestApp_RunServesAndShutsDownInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var order []string
	fleet := &fakeFleet{order: &order}
	app, err := NewApp(Deps{
		Logger:     zerolog.Nop(),
		Config:     baseConfig(t),
		Cameras:    fleet,
		APIHandler: okHandler(),
		Notifier: hookFunc(func(context.Context) error {
			order = append(order, "webhook")
			return nil
		}),
		Telemetry: hookFunc(func(context.Context) error {
			order = append(order, "telemetry")
			return nil
		}),
	})
	require.NoError(t, err)
	app.RegisterShutdownHook("extra", func(context.Context) error {
		order = append(order, "extra")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	addr := waitForAddr(t, app)
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, [][]string{{"front"}}, fleet.reconciled())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	http.DefaultClient.CloseIdleConnections()

	assert.Equal(t, []string{"extra", "cameras", "webhook", "telemetry"}, order)
	assert.ErrorIs(t, app.Run(context.Background()), ErrAlreadyStarted)
}

func TestApp_ShutdownJoinsHookErrors(t *testing.T) {
	app, err := NewApp(Deps{Logger: zerolog.Nop(), Cameras: &fakeFleet{}, APIHandler: okHandler()})
	require.NoError(t, err)

	boom := errors.New("boom")
	app.RegisterShutdownHook("broken", func(context.Context) error { return boom })

	err = app.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.NoError(t, app.Shutdown(context.Background()), "hooks run once")
}

func TestApp_ListenFailure(t *testing.T) {
	cfg := baseConfig(t)
	cfg.API.Listen = "256.0.0.1:bad"
	app, err := NewApp(Deps{Logger: zerolog.Nop(), Config: cfg, Cameras: &fakeFleet{}, APIHandler: okHandler()})
	require.NoError(t, err)
	assert.ErrorIs(t, app.Run(context.Background()), ErrServerStartFailed)
}

// freeAddr returns a loopback address with a port nobody listens on; the
// config validator rejects port 0.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestApp_ReloadReconcilesCameras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	listen := freeAddr(t)
	write := func(ids ...string) {
		body := "dataDir: " + dir + "\napi:\n  listen: " + listen + "\ncameras:\n"
		for _, id := range ids {
			body += "  - id: " + id + "\n    source: rtsp://10.0.0.5/" + id + "\n"
		}
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("front")

	loader := config.NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewHolder(initial, loader)

	fleet := &fakeFleet{}
	app, err := NewApp(Deps{
		Logger:     zerolog.Nop(),
		Config:     initial,
		Holder:     holder,
		Cameras:    fleet,
		APIHandler: okHandler(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	waitForAddr(t, app)

	write("front", "yard")
	require.NoError(t, holder.Reload(ctx))

	require.Eventually(t, func() bool { return len(fleet.reconciled()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	calls := fleet.reconciled()
	assert.Equal(t, []string{"front"}, calls[0])
	assert.Equal(t, []string{"front", "yard"}, calls[len(calls)-1])

	cancel()
	require.NoError(t, <-done)
}
