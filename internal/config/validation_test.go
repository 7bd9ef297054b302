// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) AppConfig {
	t.Helper()
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Media.Root = cfg.DataDir + "/media"
	cfg.Cameras = []camera.Config{
		{ID: "front", Source: "rtsp://10.0.0.5/stream"},
		{ID: "yard", Source: "http://10.0.0.6/video.mjpg"},
	}
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig(t)))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"log level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"listen", func(c *AppConfig) { c.API.Listen = "8088" }, "api.listen"},
		{"webhook scheme", func(c *AppConfig) { c.Webhook.URL = "ftp://backend/hook" }, "webhook.url"},
		{"webhook rate", func(c *AppConfig) { c.Webhook.Rate = -1 }, "webhook.rate"},
		{"hwaccel", func(c *AppConfig) { c.Encoder.HWAccel = "cuda" }, "encoder.hwaccel"},
		{"empty backoff", func(c *AppConfig) { c.Reader.Backoff = nil }, "reader.backoff"},
		{"zero backoff step", func(c *AppConfig) { c.Reader.Backoff = []time.Duration{time.Second, 0} }, "reader.backoff[1]"},
		{"exporter", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "zipkin"
		}, "telemetry.exporter"},
		{"sampling", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.SamplingRate = 2
		}, "telemetry.samplingRate"},
		{"relative media root", func(c *AppConfig) { c.Media.Root = "media" }, "media.root"},
		{"duplicate camera", func(c *AppConfig) { c.Cameras[1].ID = "front" }, "duplicate camera id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.LogLevel = "loud"
	cfg.Webhook.URL = "nope"
	cfg.Cameras[0].Source = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLevel")
	assert.Contains(t, err.Error(), "webhook.url")
	assert.ErrorIs(t, err, camera.ErrInvalidConfig)
}
