// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence
// ENV > file > defaults and reloads it on file change or SIGHUP.
package config

import (
	"time"

	"github.com/ManuGH/vigil/internal/camera"
)

// AppConfig is the validated daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	API       APIConfig       `yaml:"api"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Media     MediaConfig     `yaml:"media"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Reader    ReaderConfig    `yaml:"reader"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	Cameras []camera.Config `yaml:"cameras"`
}

// APIConfig configures the control HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Secret is compared with the X-Vigil-Secret request header. Empty
	// disables authentication.
	Secret string `yaml:"secret"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// WebhookConfig configures outbound event notifications.
type WebhookConfig struct {
	URL              string        `yaml:"url"`
	Secret           string        `yaml:"secret"`
	Timeout          time.Duration `yaml:"timeout"`
	Rate             float64       `yaml:"rate"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// MediaConfig configures where recordings and snapshots are written.
type MediaConfig struct {
	Root              string `yaml:"root"`
	MinRecordingBytes int64  `yaml:"minRecordingBytes"`
}

// EncoderConfig configures the ffmpeg child processes.
type EncoderConfig struct {
	FFmpegBin        string        `yaml:"ffmpegBin"`
	FFprobeBin       string        `yaml:"ffprobeBin"`
	HWAccel          string        `yaml:"hwaccel"`
	VAAPIDevice      string        `yaml:"vaapiDevice"`
	StopTimeout      time.Duration `yaml:"stopTimeout"`
	SourceTimeout    time.Duration `yaml:"sourceTimeout"`
	PreflightTimeout time.Duration `yaml:"preflightTimeout"`
}

// ReaderConfig configures stream acquisition.
type ReaderConfig struct {
	Backoff        []time.Duration `yaml:"backoff"`
	AuthRecheck    time.Duration   `yaml:"authRecheck"`
	ConnectTimeout time.Duration   `yaml:"connectTimeout"`
	StallTimeout   time.Duration   `yaml:"stallTimeout"`
	ProbeTimeout   time.Duration   `yaml:"probeTimeout"`
}

// EngineConfig tunes the per-camera pipelines.
type EngineConfig struct {
	MaxPassthroughFailures int           `yaml:"maxPassthroughFailures"`
	HealthCheckInterval    time.Duration `yaml:"healthCheckInterval"`
	JoinTimeout            time.Duration `yaml:"joinTimeout"`
	StopTimeout            time.Duration `yaml:"stopTimeout"`
	EventBuffer            int           `yaml:"eventBuffer"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "/var/lib/vigil",
		LogLevel: "info",
		API: APIConfig{
			Listen:          ":8088",
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout:          5 * time.Second,
			Rate:             20,
			Burst:            40,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Media: MediaConfig{
			MinRecordingBytes: 4096,
		},
		Encoder: EncoderConfig{
			FFmpegBin:        "ffmpeg",
			HWAccel:          "none",
			VAAPIDevice:      "/dev/dri/renderD128",
			StopTimeout:      10 * time.Second,
			SourceTimeout:    10 * time.Second,
			PreflightTimeout: 10 * time.Second,
		},
		Reader: ReaderConfig{
			Backoff: []time.Duration{
				10 * time.Second, 20 * time.Second, 40 * time.Second,
				60 * time.Second, 120 * time.Second,
			},
			AuthRecheck:    2 * time.Second,
			ConnectTimeout: 15 * time.Second,
			StallTimeout:   10 * time.Second,
			ProbeTimeout:   5 * time.Second,
		},
		Engine: EngineConfig{
			MaxPassthroughFailures: 1,
			HealthCheckInterval:    60 * time.Second,
			JoinTimeout:            5 * time.Second,
			StopTimeout:            15 * time.Second,
			EventBuffer:            64,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
