// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"strings"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/health"
	"github.com/ManuGH/vigil/internal/httpapi"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/manager"
	"github.com/ManuGH/vigil/internal/notify"
	"github.com/ManuGH/vigil/internal/pipeline"
	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/vigil/internal/pipeline/hardware"
	"github.com/ManuGH/vigil/internal/recorder"
	"github.com/ManuGH/vigil/internal/stream"
	"github.com/ManuGH/vigil/internal/telemetry"
)

// Build constructs every engine component from cfg. It never starts
// cameras; App.Run does.
func Build(ctx context.Context, cfg config.AppConfig, holder *config.Holder) (Deps, error) {
	logger := log.WithComponent("daemon")

	tp := initTelemetry(ctx, cfg)

	encoder := selectEncoder(ctx, cfg)
	logger.Info().
		Str(log.FieldEvent, "daemon.encoder_selected").
		Str(log.FieldEncoder, string(encoder)).
		Str("hwaccel", cfg.Encoder.HWAccel).
		Msg("recording encoder selected")

	webhook := notify.New(notify.Options{
		URL:              cfg.Webhook.URL,
		Secret:           cfg.Webhook.Secret,
		Timeout:          cfg.Webhook.Timeout,
		Rate:             cfg.Webhook.Rate,
		Burst:            cfg.Webhook.Burst,
		BreakerThreshold: cfg.Webhook.BreakerThreshold,
		BreakerReset:     cfg.Webhook.BreakerReset,
	})

	cameras := manager.New(manager.Options{
		Pipeline: pipeline.Deps{
			NewReader: readerFactory(cfg),
			Recorder: recorder.Settings{
				MediaRoot:              cfg.Media.Root,
				Encoder:                encoder,
				VAAPIDevice:            cfg.Encoder.VAAPIDevice,
				StopTimeout:            cfg.Encoder.StopTimeout,
				SourceTimeout:          cfg.Encoder.SourceTimeout,
				MinRecordingBytes:      cfg.Media.MinRecordingBytes,
				MaxPassthroughFailures: cfg.Engine.MaxPassthroughFailures,
				Launcher:               &recorder.FFmpegLauncher{Bin: cfg.Encoder.FFmpegBin},
			},
			EventBuffer:         cfg.Engine.EventBuffer,
			HealthCheckInterval: cfg.Engine.HealthCheckInterval,
			JoinTimeout:         cfg.Engine.JoinTimeout,
		},
		Notifier:    webhook,
		StopTimeout: cfg.Engine.StopTimeout,
	})

	checks := health.NewManager(cfg.Version)
	checks.RegisterChecker(health.NewDirChecker("media", cfg.Media.Root))
	checks.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.Encoder.FFmpegBin, false))
	if cfg.Encoder.FFprobeBin != "" {
		checks.RegisterChecker(health.NewBinaryChecker("ffprobe", cfg.Encoder.FFprobeBin, true))
	}
	checks.RegisterChecker(health.NewCamerasChecker(func() map[string]camera.Health {
		out := make(map[string]camera.Health)
		for _, st := range cameras.Status() {
			out[st.ID] = st.Health
		}
		return out
	}))

	var sampler httpapi.ResourceSampler
	if ps, err := httpapi.NewProcessSampler(); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "daemon.sampler_unavailable").Msg("resource usage disabled")
	} else {
		sampler = ps
	}

	api := httpapi.New(httpapi.Options{
		Cameras:   cameras,
		Health:    checks,
		Resources: sampler,
		Secret:    cfg.API.Secret,
		RateLimit: cfg.API.RateLimit,
		Version:   cfg.Version,
	})

	deps := Deps{
		Logger:     logger,
		Config:     cfg,
		Holder:     holder,
		Cameras:    cameras,
		Notifier:   webhook,
		APIHandler: api.Handler(),
	}
	if tp != nil {
		deps.Telemetry = tp
	}
	return deps, nil
}

func readerFactory(cfg config.AppConfig) func(string, stream.Target) pipeline.Reader {
	dialer := &stream.FFmpegDialer{
		Bin:            cfg.Encoder.FFmpegBin,
		ConnectTimeout: cfg.Reader.ConnectTimeout,
		StallTimeout:   cfg.Reader.StallTimeout,
	}
	prober := stream.ProberChain{
		stream.NewProtocolProber(cfg.Reader.ProbeTimeout),
		&stream.FFprobeProber{
			Bin:     cfg.Encoder.FFprobeBin,
			Timeout: cfg.Reader.ProbeTimeout,
			Logger:  log.WithComponent("probe"),
		},
	}
	return func(cameraID string, t stream.Target) pipeline.Reader {
		return stream.NewReader(t, stream.Options{
			CameraID:    cameraID,
			Dialer:      dialer,
			Prober:      prober,
			Backoff:     cfg.Reader.Backoff,
			AuthRecheck: cfg.Reader.AuthRecheck,
		})
	}
}

// selectEncoder honours an explicit hwaccel and probes devices for auto.
func selectEncoder(ctx context.Context, cfg config.AppConfig) ffmpeg.Encoder {
	det := hardware.NewDetector()
	if strings.EqualFold(strings.TrimSpace(cfg.Encoder.HWAccel), hardware.PrefAuto) {
		return det.Preflight(ctx, cfg.Encoder.FFmpegBin, cfg.Encoder.VAAPIDevice, cfg.Encoder.PreflightTimeout)
	}
	return det.Select(cfg.Encoder.HWAccel)
}

// initTelemetry installs the tracer provider. Failures are logged and
// tracing stays off; the engine runs without it.
func initTelemetry(ctx context.Context, cfg config.AppConfig) *telemetry.Provider {
	logger := log.WithComponent("telemetry")
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "vigil",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		return nil
	}
	if cfg.Telemetry.Enabled {
		logger.Info().
			Str(log.FieldEvent, "telemetry.initialized").
			Str("endpoint", cfg.Telemetry.Endpoint).
			Float64("sampling_rate", cfg.Telemetry.SamplingRate).
			Msg("telemetry initialized")
	}
	return tp
}
