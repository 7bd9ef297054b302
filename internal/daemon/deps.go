// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net/http"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/manager"
	"github.com/rs/zerolog"
)

// Fleet is the camera manager as the daemon drives it.
type Fleet interface {
	Reconcile(cfgs []camera.Config) (manager.ReconcileResult, error)
	StopAll(ctx context.Context) error
}

// Flusher waits for in-flight outbound notifications.
type Flusher interface {
	Wait(ctx context.Context) error
}

// Shutdowner releases a resource on exit.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Deps are the wired components the App runs.
type Deps struct {
	Logger zerolog.Logger
	Config config.AppConfig
	// Holder is optional; without it the daemon never reloads.
	Holder *config.Holder

	Cameras    Fleet
	Notifier   Flusher
	APIHandler http.Handler
	// Telemetry is optional.
	Telemetry Shutdowner
}

// Validate checks that all required dependencies are present.
func (d *Deps) Validate() error {
	if d.Cameras == nil {
		return ErrMissingCameras
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
