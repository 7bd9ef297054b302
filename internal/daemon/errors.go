// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingAPIHandler is returned when API handler is not provided
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrMissingCameras is returned when a daemon app is created without a camera manager.
	ErrMissingCameras = errors.New("camera manager is required")

	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("daemon already started")

	// ErrServerStartFailed is returned when the API listener cannot be opened.
	ErrServerStartFailed = errors.New("server failed to start")
)
