// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/vigil/internal/pipeline/hardware"
	"github.com/ManuGH/vigil/internal/validate"
)

// Validate checks cfg and reports every problem at once. The returned error
// wraps ErrInvalid and, for camera entries, camera.ErrInvalidConfig.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.LogLevel("logLevel", cfg.LogLevel)
	v.Directory("dataDir", cfg.DataDir)
	v.Directory("media.root", cfg.Media.Root)
	v.NonNegative("media.minRecordingBytes", float64(cfg.Media.MinRecordingBytes))

	v.ListenAddr("api.listen", cfg.API.Listen)
	v.NonNegative("api.rateLimit", float64(cfg.API.RateLimit))
	v.PositiveDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout)

	if strings.TrimSpace(cfg.Webhook.URL) != "" {
		v.URL("webhook.url", cfg.Webhook.URL, "http", "https")
	}
	v.PositiveDuration("webhook.timeout", cfg.Webhook.Timeout)
	v.NonNegative("webhook.rate", cfg.Webhook.Rate)
	v.NonNegative("webhook.burst", float64(cfg.Webhook.Burst))
	v.NonNegative("webhook.breakerThreshold", float64(cfg.Webhook.BreakerThreshold))

	v.NotEmpty("encoder.ffmpegBin", cfg.Encoder.FFmpegBin)
	if !hardware.ValidPreference(cfg.Encoder.HWAccel) {
		v.AddError("encoder.hwaccel", fmt.Sprintf("unknown hardware acceleration %q", cfg.Encoder.HWAccel), cfg.Encoder.HWAccel)
	}
	v.PositiveDuration("encoder.stopTimeout", cfg.Encoder.StopTimeout)

	if len(cfg.Reader.Backoff) == 0 {
		v.AddError("reader.backoff", "backoff schedule cannot be empty", nil)
	}
	for i, d := range cfg.Reader.Backoff {
		v.PositiveDuration(fmt.Sprintf("reader.backoff[%d]", i), d)
	}
	v.PositiveDuration("reader.authRecheck", cfg.Reader.AuthRecheck)

	v.NonNegative("engine.maxPassthroughFailures", float64(cfg.Engine.MaxPassthroughFailures))
	v.PositiveDuration("engine.healthCheckInterval", cfg.Engine.HealthCheckInterval)
	v.PositiveDuration("engine.joinTimeout", cfg.Engine.JoinTimeout)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Range("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	var errs []error
	seen := make(map[string]bool, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		if seen[cam.ID] {
			v.AddError(fmt.Sprintf("cameras[%d].id", i), fmt.Sprintf("duplicate camera id %q", cam.ID), cam.ID)
		}
		seen[cam.ID] = true
		if err := cam.WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cameras[%d]: %w", i, err))
		}
	}

	if err := v.Err(); err != nil {
		errs = append([]error{err}, errs...)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
