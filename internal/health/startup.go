// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/rs/zerolog"
)

var lookPath = exec.LookPath

// PerformStartupChecks prepares the data directories and verifies runtime
// dependencies before any camera starts.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	for _, dir := range []struct{ name, path string }{
		{"data", cfg.DataDir},
		{"media", cfg.Media.Root},
	} {
		if err := ensureDir(logger, dir.path); err != nil {
			return fmt.Errorf("%s directory check failed: %w", dir.name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := checkDependencies(logger, cfg); err != nil {
		return fmt.Errorf("dependency check failed: %w", err)
	}

	warnings(logger, cfg)
	logger.Info().Msg("all startup checks passed")
	return nil
}

func ensureDir(logger zerolog.Logger, path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := checkWritable(path); err != nil {
		return err
	}
	logger.Info().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}

func checkDependencies(logger zerolog.Logger, cfg config.AppConfig) error {
	ffmpegBin := strings.TrimSpace(cfg.Encoder.FFmpegBin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if _, err := lookPath(ffmpegBin); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", ffmpegBin, err)
	}
	logger.Info().Str("ffmpeg", ffmpegBin).Msg("ffmpeg available")

	if cfg.Encoder.FFprobeBin != "" {
		if _, err := lookPath(cfg.Encoder.FFprobeBin); err != nil {
			logger.Warn().
				Err(err).
				Str("ffprobe", cfg.Encoder.FFprobeBin).
				Msg("ffprobe not found; stream probing falls back to ffmpeg")
		}
	}

	if strings.EqualFold(cfg.Encoder.HWAccel, "vaapi") {
		if err := checkFileReadable(cfg.Encoder.VAAPIDevice); err != nil {
			return fmt.Errorf("VAAPI device %s: %w", cfg.Encoder.VAAPIDevice, err)
		}
	}
	return nil
}

func warnings(logger zerolog.Logger, cfg config.AppConfig) {
	if cfg.Webhook.URL == "" {
		logger.Warn().Msg("no webhook configured; camera events are only logged")
	}
	if cfg.API.Secret == "" {
		logger.Warn().Msg("API secret not set; control endpoints are unauthenticated")
	}
	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; recordings may be lost on reboot")
	}
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}
