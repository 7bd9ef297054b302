// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hardware detects h264 encoders and records their readiness.
//
// Two-tier check per encoder:
//
//  1. Device presence (for example /dev/dri/renderD128). Cheap, but only
//     proves the device node exists, not that encoding works.
//
//  2. Preflight: a short real encode through ffmpeg. Selection in auto mode is
//     fail-closed and only returns hardware encoders whose preflight passed.
package hardware

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
)

// Preference values accepted by encoder.hwaccel.
const (
	PrefNone    = "none"
	PrefAuto    = "auto"
	PrefVAAPI   = "vaapi"
	PrefNVENC   = "nvenc"
	PrefQSV     = "qsv"
	PrefV4L2M2M = "v4l2m2m"
)

// Device nodes probed before a preflight is attempted.
const (
	DeviceVAAPI   = "/dev/dri/renderD128"
	DeviceNVIDIA  = "/dev/nvidia0"
	DeviceV4L2M2M = "/dev/video11"
)

// autoOrder is the preference order for auto selection.
var autoOrder = []ffmpeg.Encoder{
	ffmpeg.EncoderNVENC,
	ffmpeg.EncoderVAAPI,
	ffmpeg.EncoderQSV,
	ffmpeg.EncoderV4L2M2M,
}

var encoderDevice = map[ffmpeg.Encoder]string{
	ffmpeg.EncoderNVENC:   DeviceNVIDIA,
	ffmpeg.EncoderVAAPI:   DeviceVAAPI,
	ffmpeg.EncoderQSV:     DeviceVAAPI,
	ffmpeg.EncoderV4L2M2M: DeviceV4L2M2M,
}

// ValidPreference reports whether pref is an accepted hwaccel value.
func ValidPreference(pref string) bool {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "", PrefNone, PrefAuto, PrefVAAPI, PrefNVENC, PrefQSV, PrefV4L2M2M:
		return true
	}
	return false
}

// Detector holds device probes and preflight results.
type Detector struct {
	stat func(string) (os.FileInfo, error)

	mu       sync.RWMutex
	checked  bool
	verified map[ffmpeg.Encoder]bool
}

// NewDetector returns a Detector that probes the real filesystem.
func NewDetector() *Detector {
	return &Detector{stat: os.Stat}
}

// HasDevice reports whether the device node backing enc exists.
func (d *Detector) HasDevice(enc ffmpeg.Encoder) bool {
	dev, ok := encoderDevice[enc]
	if !ok {
		return enc == ffmpeg.EncoderSoftware
	}
	_, err := d.stat(dev)
	return err == nil
}

// SetPreflightResult records per-encoder preflight status.
func (d *Detector) SetPreflightResult(verified map[ffmpeg.Encoder]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checked = true
	d.verified = make(map[ffmpeg.Encoder]bool, len(verified))
	for k, v := range verified {
		if v {
			d.verified[k] = true
		}
	}
}

// IsReady returns true only if preflight has run and enc passed it.
// Fail-closed: returns false if preflight hasn't run yet.
func (d *Detector) IsReady(enc ffmpeg.Encoder) bool {
	if enc == ffmpeg.EncoderSoftware {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checked && d.verified[enc]
}

// Select maps an hwaccel preference onto an encoder. Explicit preferences
// are honoured as configured; auto picks the first verified hardware
// encoder and falls back to libx264.
func (d *Detector) Select(pref string) ffmpeg.Encoder {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case PrefVAAPI:
		return ffmpeg.EncoderVAAPI
	case PrefNVENC:
		return ffmpeg.EncoderNVENC
	case PrefQSV:
		return ffmpeg.EncoderQSV
	case PrefV4L2M2M:
		return ffmpeg.EncoderV4L2M2M
	case PrefAuto:
		for _, enc := range autoOrder {
			if d.IsReady(enc) {
				return enc
			}
		}
	}
	return ffmpeg.EncoderSoftware
}

// Preflight runs a short test encode for every hardware encoder whose device
// exists and records the results. It returns the encoder auto mode now selects.
func (d *Detector) Preflight(ctx context.Context, ffmpegBin, vaapiDevice string, timeout time.Duration) ffmpeg.Encoder {
	logger := log.WithComponent("hardware")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	results := make(map[ffmpeg.Encoder]bool, len(autoOrder))
	for _, enc := range autoOrder {
		if !d.HasDevice(enc) {
			continue
		}
		err := runPreflight(ctx, ffmpegBin, enc, vaapiDevice, timeout)
		results[enc] = err == nil
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str(log.FieldEvent, "hardware.preflight").
			Str(log.FieldEncoder, string(enc)).
			Bool("passed", err == nil).
			Msg("encoder preflight")
	}
	d.SetPreflightResult(results)
	return d.Select(PrefAuto)
}

func runPreflight(ctx context.Context, bin string, enc ffmpeg.Encoder, vaapiDevice string, timeout time.Duration) error {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error"}
	if enc == ffmpeg.EncoderVAAPI {
		if vaapiDevice == "" {
			vaapiDevice = DeviceVAAPI
		}
		args = append(args, "-vaapi_device", vaapiDevice)
	}
	args = append(args, "-f", "lavfi", "-i", "testsrc=size=320x240:rate=10", "-frames:v", "5")
	if enc == ffmpeg.EncoderVAAPI {
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args, "-c:v", string(enc), "-f", "null", "-")

	proc, err := ffmpeg.Start(ctx, ffmpeg.Options{
		Bin:         bin,
		Args:        args,
		Role:        "preflight",
		StderrLines: 8,
		Grace:       time.Second,
	})
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-ctx.Done():
	case <-timer.C:
	}
	if !proc.Exited() {
		_ = proc.Stop(0)
		return fmt.Errorf("%s preflight timed out", enc)
	}
	if err := proc.Wait(); err != nil {
		return fmt.Errorf("%s preflight: %w: %s", enc, err, strings.Join(proc.Stderr(3), " | "))
	}
	return nil
}
