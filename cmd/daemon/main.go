// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command vigil runs the camera recording engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/daemon"
	"github.com/ManuGH/vigil/internal/health"
	"github.com/ManuGH/vigil/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "vigil", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = resolveDefaultConfigPath()
	}
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, path).
			Msg("failed to load configuration")
	}

	log.Reconfigure(log.Config{Level: cfg.LogLevel, Service: "vigil", Version: cfg.Version})
	logger = log.WithComponent("daemon")
	if path != "" {
		logger.Info().
			Str(log.FieldEvent, "config.loaded").
			Str(log.FieldSource, "file").
			Str(log.FieldPath, path).
			Int("cameras", len(cfg.Cameras)).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(log.FieldEvent, "config.loaded").
			Str(log.FieldSource, "env+defaults").
			Int("cameras", len(cfg.Cameras)).
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	holder := config.NewHolder(cfg, loader)
	defer holder.Stop()

	deps, err := daemon.Build(ctx, cfg, holder)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "daemon.build_failed").Msg("failed to assemble engine")
	}
	app, err := daemon.NewApp(deps)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "daemon.init_failed").Msg("failed to create daemon")
	}

	logger.Info().
		Str(log.FieldEvent, "daemon.start").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting vigil")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}
