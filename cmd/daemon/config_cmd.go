// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"gopkg.in/yaml.v3"
)

const redacted = "***"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(stderr, "Usage:")
	fmt.Fprintln(stderr, "  vigil config validate [--file|-f vigil.yaml]")
	fmt.Fprintln(stderr, "  vigil config dump [--file|-f vigil.yaml] [--format=yaml|json]")
}

// resolveDefaultConfigPath returns ${VIGIL_DATA_DIR}/vigil.yaml when it
// exists.
func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(os.Getenv("VIGIL_DATA_DIR"))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "vigil.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func parseFileFlag(name string, args []string, extra func(fs *flag.FlagSet)) (string, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return "", false
	}

	path := strings.TrimSpace(file)
	if path == "" {
		path = resolveDefaultConfigPath()
	}
	if path == "" {
		fmt.Fprintln(stderr, "Error: --file is required (no vigil.yaml found in $VIGIL_DATA_DIR)")
		return "", false
	}
	return path, true
}

func runConfigValidate(args []string) int {
	path, ok := parseFileFlag("vigil config validate", args, nil)
	if !ok {
		return 2
	}
	cfg, err := config.NewLoader(path, version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "%s is valid (%d cameras)\n", path, len(cfg.Cameras))
	return 0
}

func runConfigDump(args []string) int {
	var format string
	path, ok := parseFileFlag("vigil config dump", args, func(fs *flag.FlagSet) {
		fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	})
	if !ok {
		return 2
	}
	cfg, err := config.NewLoader(path, version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	cfg = redact(cfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config.MaskSecrets(cfg)); err != nil {
			fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(stderr, "Unknown format: %s\n", format)
		return 2
	}
	return 0
}

// redact blanks shared secrets and strips credentials from URLs so the
// effective config can be shared.
func redact(cfg config.AppConfig) config.AppConfig {
	if cfg.API.Secret != "" {
		cfg.API.Secret = redacted
	}
	if cfg.Webhook.Secret != "" {
		cfg.Webhook.Secret = redacted
	}
	cfg.Webhook.URL = config.MaskURL(cfg.Webhook.URL)
	cams := make([]camera.Config, len(cfg.Cameras))
	for i, c := range cfg.Cameras {
		c.Source = config.MaskURL(c.Source)
		cams[i] = c
	}
	cfg.Cameras = cams
	return cfg
}
