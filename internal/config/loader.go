// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every VIGIL_* key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath means ENV-only
// configuration.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envInt64(key string, def int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, def)
}

func (l *Loader) envDurations(key string, def []time.Duration) []time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDurations(key, def)
}

// Load builds the configuration in strict order: defaults, file (strict),
// environment, derived values, validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	l.mergeEnv(&cfg)

	if err := l.derive(&cfg); err != nil {
		return AppConfig{}, err
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// loadFile decodes a single YAML document onto cfg. Unknown fields are
// fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("VIGIL_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("VIGIL_LOG_LEVEL", cfg.LogLevel)

	cfg.API.Listen = l.envString("VIGIL_API_LISTEN", cfg.API.Listen)
	cfg.API.Secret = l.envString("VIGIL_API_SECRET", cfg.API.Secret)
	cfg.API.RateLimit = l.envInt("VIGIL_API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Webhook.URL = l.envString("VIGIL_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = l.envString("VIGIL_WEBHOOK_SECRET", cfg.Webhook.Secret)
	cfg.Webhook.Timeout = l.envDuration("VIGIL_WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.Rate = l.envFloat("VIGIL_WEBHOOK_RATE", cfg.Webhook.Rate)
	cfg.Webhook.Burst = l.envInt("VIGIL_WEBHOOK_BURST", cfg.Webhook.Burst)

	cfg.Media.Root = l.envString("VIGIL_MEDIA_ROOT", cfg.Media.Root)
	cfg.Media.MinRecordingBytes = l.envInt64("VIGIL_MIN_RECORDING_BYTES", cfg.Media.MinRecordingBytes)

	cfg.Encoder.FFmpegBin = l.envString("VIGIL_FFMPEG_BIN", cfg.Encoder.FFmpegBin)
	cfg.Encoder.FFprobeBin = l.envString("VIGIL_FFPROBE_BIN", cfg.Encoder.FFprobeBin)
	cfg.Encoder.HWAccel = l.envString("VIGIL_HWACCEL", cfg.Encoder.HWAccel)
	cfg.Encoder.VAAPIDevice = l.envString("VIGIL_VAAPI_DEVICE", cfg.Encoder.VAAPIDevice)
	cfg.Encoder.StopTimeout = l.envDuration("VIGIL_ENCODER_STOP_TIMEOUT", cfg.Encoder.StopTimeout)

	cfg.Reader.Backoff = l.envDurations("VIGIL_READER_BACKOFF", cfg.Reader.Backoff)
	cfg.Reader.AuthRecheck = l.envDuration("VIGIL_READER_AUTH_RECHECK", cfg.Reader.AuthRecheck)

	cfg.Engine.MaxPassthroughFailures = l.envInt("VIGIL_MAX_PASSTHROUGH_FAILURES", cfg.Engine.MaxPassthroughFailures)
	cfg.Engine.HealthCheckInterval = l.envDuration("VIGIL_HEALTH_CHECK_INTERVAL", cfg.Engine.HealthCheckInterval)
	cfg.Engine.JoinTimeout = l.envDuration("VIGIL_JOIN_TIMEOUT", cfg.Engine.JoinTimeout)

	cfg.Telemetry.Enabled = l.envBool("VIGIL_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("VIGIL_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("VIGIL_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("VIGIL_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString("VIGIL_TELEMETRY_ENVIRONMENT", cfg.Telemetry.Environment)
}

// derive fills values computed from other settings.
func (l *Loader) derive(cfg *AppConfig) error {
	if cfg.DataDir != "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = abs
	}
	if cfg.Media.Root == "" {
		cfg.Media.Root = filepath.Join(cfg.DataDir, "media")
	}
	if cfg.Encoder.FFprobeBin == "" {
		cfg.Encoder.FFprobeBin = siblingBinary(cfg.Encoder.FFmpegBin, "ffprobe")
	}
	for i := range cfg.Cameras {
		cfg.Cameras[i] = cfg.Cameras[i].WithDefaults()
	}
	return nil
}

// siblingBinary returns name next to bin when bin is a path, else name.
func siblingBinary(bin, name string) string {
	if strings.ContainsRune(bin, filepath.Separator) {
		return filepath.Join(filepath.Dir(bin), name)
	}
	return name
}
