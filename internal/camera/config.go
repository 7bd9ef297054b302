// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package camera holds the per-camera configuration snapshot, health and
// event vocabulary shared by the stream reader, pipeline and manager.
package camera

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RecordingMode selects when the recording controller writes files.
type RecordingMode string

const (
	RecordingOff    RecordingMode = "off"
	RecordingAlways RecordingMode = "always"
	RecordingMotion RecordingMode = "motion"
)

// DetectionMode selects when motion detection runs.
type DetectionMode string

const (
	DetectionAlways    DetectionMode = "always"
	DetectionOff       DetectionMode = "off"
	DetectionScheduled DetectionMode = "scheduled"
)

// PictureMode selects when still snapshots are written.
type PictureMode string

const (
	PictureOff    PictureMode = "off"
	PictureMotion PictureMode = "motion"
	PictureManual PictureMode = "manual"
)

// CanonicalWidth and CanonicalHeight define the resolution MotionThreshold is
// expressed in. The threshold ratio is MotionThreshold / (CanonicalWidth*CanonicalHeight).
const (
	CanonicalWidth  = 640
	CanonicalHeight = 480
)

var (
	ErrInvalidConfig   = errors.New("invalid camera config")
	ErrInvalidTemplate = errors.New("invalid filename template")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Config is an immutable snapshot of one camera's settings. A running
// pipeline swaps snapshots through Merge; it never mutates one in place.
type Config struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source" json:"source"`

	Width     int `yaml:"width" json:"width"`
	Height    int `yaml:"height" json:"height"`
	Framerate int `yaml:"framerate" json:"framerate"`
	Rotation  int `yaml:"rotation" json:"rotation"`

	TextLeft  string  `yaml:"textLeft" json:"text_left"`
	TextRight string  `yaml:"textRight" json:"text_right"`
	TextScale float64 `yaml:"textScale" json:"text_scale"`

	RecordingMode RecordingMode `yaml:"recordingMode" json:"recording_mode"`
	DetectionMode DetectionMode `yaml:"detectionMode" json:"detection_mode"`
	Schedule      Schedule      `yaml:"schedule" json:"schedule"`

	MotionThreshold    int  `yaml:"motionThreshold" json:"motion_threshold"`
	MotionGapSeconds   int  `yaml:"motionGapSeconds" json:"motion_gap_seconds"`
	MinMotionFrames    int  `yaml:"minMotionFrames" json:"min_motion_frames"`
	DetectEveryN       int  `yaml:"detectEveryN" json:"detect_every_n"`
	Despeckle          bool `yaml:"despeckle" json:"despeckle"`
	PreCaptureSeconds  int  `yaml:"preCaptureSeconds" json:"pre_capture_seconds"`
	PostCaptureSeconds int  `yaml:"postCaptureSeconds" json:"post_capture_seconds"`

	MovieQuality   int    `yaml:"movieQuality" json:"movie_quality"`
	Passthrough    bool   `yaml:"passthrough" json:"passthrough"`
	MaxClipSeconds int    `yaml:"maxClipSeconds" json:"max_clip_seconds"`
	MovieFilename  string `yaml:"movieFilename" json:"movie_filename"`

	PictureMode     PictureMode `yaml:"pictureMode" json:"picture_mode"`
	PictureQuality  int         `yaml:"pictureQuality" json:"picture_quality"`
	PictureFilename string      `yaml:"pictureFilename" json:"picture_filename"`

	PrerollThrottle      int `yaml:"prerollThrottle" json:"preroll_throttle"`
	LiveViewFPSDivisor   int `yaml:"liveViewFpsDivisor" json:"live_view_fps_divisor"`
	MotionAnalysisHeight int `yaml:"motionAnalysisHeight" json:"motion_analysis_height"`
	LiveViewHeight       int `yaml:"liveViewHeight" json:"live_view_height"`
	LiveViewQuality      int `yaml:"liveViewQuality" json:"live_view_quality"`
}

// WithDefaults returns a copy with zero-valued tuning fields filled in.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Framerate <= 0 {
		c.Framerate = 10
	}
	if c.TextScale <= 0 {
		c.TextScale = 1
	}
	if c.TextRight == "" && c.TextLeft == "" {
		c.TextLeft = "%$"
		c.TextRight = "%Y-%m-%d %H:%M:%S"
	}
	if c.RecordingMode == "" {
		c.RecordingMode = RecordingMotion
	}
	if c.DetectionMode == "" {
		c.DetectionMode = DetectionAlways
	}
	if c.MotionThreshold <= 0 {
		c.MotionThreshold = 1500
	}
	if c.MotionGapSeconds <= 0 {
		c.MotionGapSeconds = 10
	}
	if c.MinMotionFrames <= 0 {
		c.MinMotionFrames = 1
	}
	if c.DetectEveryN <= 0 {
		c.DetectEveryN = 1
	}
	if c.MovieQuality <= 0 {
		c.MovieQuality = 75
	}
	if c.MovieFilename == "" {
		c.MovieFilename = "%Y-%m-%d/%H-%M-%S"
	}
	if c.PictureMode == "" {
		c.PictureMode = PictureOff
	}
	if c.PictureQuality <= 0 {
		c.PictureQuality = 85
	}
	if c.PictureFilename == "" {
		c.PictureFilename = "%Y-%m-%d/%H-%M-%S-snapshot"
	}
	if c.PrerollThrottle <= 0 {
		c.PrerollThrottle = 1
	}
	if c.LiveViewFPSDivisor <= 0 {
		c.LiveViewFPSDivisor = 2
	}
	if c.MotionAnalysisHeight <= 0 {
		c.MotionAnalysisHeight = 240
	}
	if c.LiveViewHeight <= 0 {
		c.LiveViewHeight = 360
	}
	if c.LiveViewQuality <= 0 {
		c.LiveViewQuality = 70
	}
	return c
}

// Validate rejects configs that must never reach a pipeline.
func (c Config) Validate() error {
	var errs []error
	if !idPattern.MatchString(c.ID) {
		errs = append(errs, fmt.Errorf("id %q must match %s", c.ID, idPattern.String()))
	}
	if err := validateSource(c.Source); err != nil {
		errs = append(errs, err)
	}
	if c.Width < 0 || c.Height < 0 {
		errs = append(errs, fmt.Errorf("width/height must not be negative"))
	}
	if (c.Width == 0) != (c.Height == 0) {
		errs = append(errs, fmt.Errorf("width and height must be set together"))
	}
	if c.Framerate < 0 || c.Framerate > 120 {
		errs = append(errs, fmt.Errorf("framerate %d out of range 1..120", c.Framerate))
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		errs = append(errs, fmt.Errorf("rotation %d must be one of 0, 90, 180, 270", c.Rotation))
	}
	switch c.RecordingMode {
	case "", RecordingOff, RecordingAlways, RecordingMotion:
	default:
		errs = append(errs, fmt.Errorf("unknown recording mode %q", c.RecordingMode))
	}
	switch c.DetectionMode {
	case "", DetectionAlways, DetectionOff:
	case DetectionScheduled:
		if err := c.Schedule.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detection mode %q", c.DetectionMode))
	}
	switch c.PictureMode {
	case "", PictureOff, PictureMotion, PictureManual:
	default:
		errs = append(errs, fmt.Errorf("unknown picture mode %q", c.PictureMode))
	}
	for name, q := range map[string]int{
		"movieQuality":    c.MovieQuality,
		"pictureQuality":  c.PictureQuality,
		"liveViewQuality": c.LiveViewQuality,
	} {
		if q < 0 || q > 100 {
			errs = append(errs, fmt.Errorf("%s %d out of range 0..100", name, q))
		}
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > CanonicalWidth*CanonicalHeight {
		errs = append(errs, fmt.Errorf("motionThreshold %d out of range 0..%d", c.MotionThreshold, CanonicalWidth*CanonicalHeight))
	}
	if c.MaxClipSeconds < 0 || c.PreCaptureSeconds < 0 || c.PostCaptureSeconds < 0 || c.MotionGapSeconds < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	for _, tmpl := range []string{c.MovieFilename, c.PictureFilename} {
		if tmpl == "" {
			continue
		}
		if err := ValidateFilenameTemplate(tmpl); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ThresholdRatio converts the absolute pixel threshold into a changed-pixel
// ratio independent of the analysis resolution.
func (c Config) ThresholdRatio() float64 {
	return float64(c.MotionThreshold) / float64(CanonicalWidth*CanonicalHeight)
}

func validateSource(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("source is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("source is not a valid URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps", "http", "https", "rtmp":
	default:
		return fmt.Errorf("source scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("source has no host")
	}
	return nil
}
