// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return out, errOut
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\n"+body), 0o600))
	return path
}

const sampleConfig = `api:
  secret: hunter2
webhook:
  url: https://user:pw@backend.example/hook
  secret: s3cret
cameras:
  - id: front
    source: rtsp://admin:pw@10.0.0.5/stream
`

func TestConfigValidate(t *testing.T) {
	out, _ := captureOutput(t)
	path := writeConfigFile(t, sampleConfig)
	assert.Equal(t, 0, runConfigCLI([]string{"validate", "-f", path}))
	assert.Contains(t, out.String(), "is valid (1 cameras)")
}

func TestConfigValidate_Invalid(t *testing.T) {
	_, errOut := captureOutput(t)
	path := writeConfigFile(t, "logLevel: loud\n")
	assert.Equal(t, 1, runConfigCLI([]string{"validate", "--file", path}))
	assert.Contains(t, errOut.String(), "logLevel")
}

func TestConfigValidate_NoFile(t *testing.T) {
	t.Setenv("VIGIL_DATA_DIR", "")
	_, errOut := captureOutput(t)
	assert.Equal(t, 2, runConfigCLI([]string{"validate"}))
	assert.Contains(t, errOut.String(), "--file is required")
}

func TestConfigDump_RedactsSecrets(t *testing.T) {
	out, _ := captureOutput(t)
	path := writeConfigFile(t, sampleConfig)
	require.Equal(t, 0, runConfigCLI([]string{"dump", "-f", path}))

	text := out.String()
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "s3cret")
	assert.NotContains(t, text, "admin:pw")
	assert.NotContains(t, text, "user:pw")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "***", doc["api"].(map[string]any)["secret"])
}

func TestConfigDump_JSON(t *testing.T) {
	out, _ := captureOutput(t)
	path := writeConfigFile(t, sampleConfig)
	require.Equal(t, 0, runConfigCLI([]string{"dump", "-f", path, "--format", "json"}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.NotContains(t, out.String(), "hunter2")
	assert.Contains(t, doc, "Cameras")
}

func TestConfigCLI_UnknownSubcommand(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, 2, runConfigCLI([]string{"explode"}))
	assert.Equal(t, 0, runConfigCLI(nil))
}

func TestHealthcheck(t *testing.T) {
	captureOutput(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.Equal(t, 0, runHealthcheckCLI([]string{"-addr", srv.URL, "-mode", "live"}))
	assert.Equal(t, 1, runHealthcheckCLI([]string{"-addr", srv.URL}))
}
