// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hardware

import (
	"io/fs"
	"os"
	"testing"

	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/stretchr/testify/assert"
)

func detectorWithDevices(devices ...string) *Detector {
	present := map[string]bool{}
	for _, d := range devices {
		present[d] = true
	}
	return &Detector{stat: func(name string) (os.FileInfo, error) {
		if present[name] {
			return nil, nil
		}
		return nil, fs.ErrNotExist
	}}
}

func TestIsReady_DefaultFalse(t *testing.T) {
	d := detectorWithDevices(DeviceVAAPI)
	assert.False(t, d.IsReady(ffmpeg.EncoderVAAPI), "hardware must not be ready before preflight runs")
	assert.True(t, d.IsReady(ffmpeg.EncoderSoftware))
}

func TestIsReady_AfterPreflight(t *testing.T) {
	d := detectorWithDevices()
	d.SetPreflightResult(map[ffmpeg.Encoder]bool{
		ffmpeg.EncoderVAAPI: true,
		ffmpeg.EncoderNVENC: false,
	})
	assert.True(t, d.IsReady(ffmpeg.EncoderVAAPI))
	assert.False(t, d.IsReady(ffmpeg.EncoderNVENC))
}

func TestHasDevice(t *testing.T) {
	d := detectorWithDevices(DeviceVAAPI)
	assert.True(t, d.HasDevice(ffmpeg.EncoderVAAPI))
	assert.True(t, d.HasDevice(ffmpeg.EncoderQSV))
	assert.False(t, d.HasDevice(ffmpeg.EncoderNVENC))
	assert.True(t, d.HasDevice(ffmpeg.EncoderSoftware))
}

func TestSelect(t *testing.T) {
	d := detectorWithDevices()
	assert.Equal(t, ffmpeg.EncoderSoftware, d.Select(""))
	assert.Equal(t, ffmpeg.EncoderSoftware, d.Select(PrefNone))
	assert.Equal(t, ffmpeg.EncoderVAAPI, d.Select("VAAPI"))
	assert.Equal(t, ffmpeg.EncoderV4L2M2M, d.Select(PrefV4L2M2M))

	// auto is fail-closed
	assert.Equal(t, ffmpeg.EncoderSoftware, d.Select(PrefAuto))

	d.SetPreflightResult(map[ffmpeg.Encoder]bool{
		ffmpeg.EncoderVAAPI: true,
		ffmpeg.EncoderQSV:   true,
	})
	assert.Equal(t, ffmpeg.EncoderVAAPI, d.Select(PrefAuto))

	d.SetPreflightResult(map[ffmpeg.Encoder]bool{ffmpeg.EncoderNVENC: true, ffmpeg.EncoderVAAPI: true})
	assert.Equal(t, ffmpeg.EncoderNVENC, d.Select(PrefAuto))
}

func TestValidPreference(t *testing.T) {
	for _, p := range []string{"", "none", "auto", "vaapi", "nvenc", "qsv", "v4l2m2m", " Auto "} {
		assert.True(t, ValidPreference(p), p)
	}
	assert.False(t, ValidPreference("cuda"))
}
