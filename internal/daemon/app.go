// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the engine components together and owns the process
// lifecycle: API server, config reload and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
	idleTimeout            = 120 * time.Second
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App runs the API server and applies configuration reloads to the camera
// fleet until its context ends.
type App struct {
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	addr     net.Addr
	cfg      config.AppConfig
	hooks    []namedHook
	shutdown sync.Once
}

// NewApp validates deps and registers the built-in shutdown hooks.
func NewApp(deps Deps) (*App, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	a := &App{
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "daemon").Logger(),
		cfg:    deps.Config,
	}
	// Registered in reverse of the order they run.
	if deps.Telemetry != nil {
		a.RegisterShutdownHook("telemetry", deps.Telemetry.Shutdown)
	}
	if deps.Notifier != nil {
		a.RegisterShutdownHook("webhook", deps.Notifier.Wait)
	}
	a.RegisterShutdownHook("cameras", deps.Cameras.StopAll)
	return a, nil
}

// RegisterShutdownHook registers a function to be called during shutdown.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// Addr returns the API listen address once Run is serving, else nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run starts the cameras and the API server and blocks until ctx is
// cancelled or the server fails. Shutdown always runs before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	cfg := a.deps.Config
	ln, err := net.Listen("tcp", cfg.API.Listen)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrServerStartFailed, cfg.API.Listen, err)
	}
	srv := &http.Server{
		Handler:           a.deps.APIHandler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	a.RegisterShutdownHook("http", srv.Shutdown)

	a.reconcile(cfg)

	g, gctx := errgroup.WithContext(ctx)

	if h := a.deps.Holder; h != nil {
		if err := h.StartWatcher(gctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		h.WatchSignals(gctx)

		reloads := make(chan config.AppConfig, 1)
		h.RegisterListener(reloads)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case next := <-reloads:
					a.apply(next)
				}
			}
		})
	}

	g.Go(func() error {
		a.logger.Info().
			Str(log.FieldEvent, "http.listening").
			Str("addr", ln.Addr().String()).
			Msg("control API listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown runs every registered hook once, newest first, and joins their
// errors.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.shutdown.Do(func() {
		a.logger.Info().Str(log.FieldEvent, "daemon.shutdown_start").Msg("shutting down")
		a.mu.Lock()
		hooks := append([]namedHook(nil), a.hooks...)
		a.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			start := time.Now()
			if hookErr := h.hook(ctx); hookErr != nil {
				a.logger.Error().
					Err(hookErr).
					Str(log.FieldEvent, "daemon.shutdown_hook_failed").
					Str("hook", h.name).
					Msg("shutdown hook failed")
				errs = append(errs, fmt.Errorf("%s: %w", h.name, hookErr))
				continue
			}
			a.logger.Debug().
				Str(log.FieldEvent, "daemon.shutdown_hook_done").
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook completed")
		}
		err = errors.Join(errs...)
		a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	})
	return err
}

// apply reacts to a reloaded configuration: log level first, then the
// camera list diff.
func (a *App) apply(next config.AppConfig) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	if prev.LogLevel != next.LogLevel {
		log.Reconfigure(log.Config{Level: next.LogLevel, Service: "vigil", Version: next.Version})
	}
	a.reconcile(next)
}

func (a *App) reconcile(cfg config.AppConfig) {
	res, err := a.deps.Cameras.Reconcile(cfg.Cameras)
	ev := a.logger.Info()
	if err != nil {
		ev = a.logger.Warn().Err(err)
	}
	ev.Str(log.FieldEvent, "daemon.cameras_reconciled").
		Strs("started", res.Started).
		Strs("updated", res.Updated).
		Strs("stopped", res.Stopped).
		Int("unchanged", len(res.Unchanged)).
		Msg("camera configuration applied")
}
