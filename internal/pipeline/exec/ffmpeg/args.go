// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Encoder identifies the h264 implementation used by the encode strategy.
type Encoder string

const (
	EncoderSoftware Encoder = "libx264"
	EncoderVAAPI    Encoder = "h264_vaapi"
	EncoderNVENC    Encoder = "h264_nvenc"
	EncoderQSV      Encoder = "h264_qsv"
	EncoderV4L2M2M  Encoder = "h264_v4l2m2m"
)

// ReaderSpec describes the decode side of a camera stream.
type ReaderSpec struct {
	Source    string
	Width     int // optional; 0 keeps the source size
	Height    int
	Framerate int           // optional; 0 keeps the source rate
	Timeout   time.Duration // socket timeout for stalled sources
}

// PassthroughSpec describes a stream copy into a container file.
type PassthroughSpec struct {
	Source     string
	OutputPath string
	Timeout    time.Duration
}

// EncodeSpec describes raw rgb24 frames on stdin encoded into a file.
type EncodeSpec struct {
	Width       int
	Height      int
	Framerate   int
	Quality     int // 0..100
	Encoder     Encoder
	VAAPIDevice string
	OutputPath  string
}

func baseArgs() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
	}
}

// inputArgs returns protocol specific input options followed by -i.
func inputArgs(source string, timeout time.Duration) []string {
	var args []string
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp")
		if timeout > 0 {
			args = append(args, "-timeout", strconv.FormatInt(timeout.Microseconds(), 10))
		}
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if timeout > 0 {
			args = append(args, "-rw_timeout", strconv.FormatInt(timeout.Microseconds(), 10))
		}
		args = append(args, "-reconnect", "0")
	}
	args = append(args, "-fflags", "+genpts+discardcorrupt")
	return append(args, "-i", source)
}

// BuildReaderArgs decodes the source into a stream of BMP images on stdout.
func BuildReaderArgs(spec ReaderSpec) ([]string, error) {
	if spec.Source == "" {
		return nil, fmt.Errorf("missing source")
	}
	args := baseArgs()
	args = append(args, inputArgs(spec.Source, spec.Timeout)...)
	args = append(args, "-an", "-sn", "-dn")

	var filters []string
	if spec.Framerate > 0 {
		filters = append(filters, "fps="+strconv.Itoa(spec.Framerate))
	}
	if spec.Width > 0 && spec.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args,
		"-c:v", "bmp",
		"-f", "image2pipe",
		"pipe:1",
	)
	return args, nil
}

// BuildPassthroughArgs copies the compressed video stream without decoding.
// Fragmented MP4 keeps the file playable if the process dies mid-recording.
func BuildPassthroughArgs(spec PassthroughSpec) ([]string, error) {
	if spec.Source == "" {
		return nil, fmt.Errorf("missing source")
	}
	if spec.OutputPath == "" {
		return nil, fmt.Errorf("missing output path")
	}
	args := baseArgs()
	args = append(args, inputArgs(spec.Source, spec.Timeout)...)
	args = append(args,
		"-map", "0:v:0",
		"-an",
		"-c", "copy",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-n", spec.OutputPath,
	)
	return args, nil
}

// BuildEncodeArgs reads rgb24 frames from stdin and encodes them with the
// selected encoder.
func BuildEncodeArgs(spec EncodeSpec) ([]string, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", spec.Width, spec.Height)
	}
	if spec.OutputPath == "" {
		return nil, fmt.Errorf("missing output path")
	}
	fps := spec.Framerate
	if fps <= 0 {
		fps = 10
	}

	args := baseArgs()
	if spec.Encoder == EncoderVAAPI {
		dev := spec.VAAPIDevice
		if dev == "" {
			dev = "/dev/dri/renderD128"
		}
		args = append(args, "-vaapi_device", dev)
	}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
	)
	args = append(args, encoderArgs(spec, fps)...)
	args = append(args,
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-n", spec.OutputPath,
	)
	return args, nil
}

func encoderArgs(spec EncodeSpec, fps int) []string {
	q := strconv.Itoa(RateControl(spec.Quality))
	gop := strconv.Itoa(fps * 2)
	switch spec.Encoder {
	case EncoderVAAPI:
		return []string{"-vf", "format=nv12,hwupload", "-c:v", "h264_vaapi", "-qp", q, "-g", gop}
	case EncoderNVENC:
		return []string{"-c:v", "h264_nvenc", "-preset", "p4", "-rc", "vbr", "-cq", q, "-b:v", "0", "-pix_fmt", "yuv420p", "-g", gop}
	case EncoderQSV:
		return []string{"-c:v", "h264_qsv", "-global_quality", q, "-pix_fmt", "nv12", "-g", gop}
	case EncoderV4L2M2M:
		return []string{"-c:v", "h264_v4l2m2m", "-b:v", strconv.Itoa(Bitrate(spec.Width, spec.Height, fps, spec.Quality)), "-pix_fmt", "yuv420p", "-g", gop}
	default:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency", "-crf", q, "-pix_fmt", "yuv420p", "-g", gop}
	}
}

// RateControl maps a 0..100 quality onto the h264 quantizer scale: 100 gives
// 18 (visually lossless), 0 gives 51.
func RateControl(quality int) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return 18 + (100-quality)*33/100
}

// Bitrate derives a target bitrate for encoders without constant-quality mode.
func Bitrate(width, height, fps, quality int) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	bitsPerPixel := 0.05 + 0.15*float64(quality)/100
	return int(float64(width*height*fps) * bitsPerPixel)
}

// BuildProbeArgs asks ffprobe to open the source and describe its streams.
func BuildProbeArgs(source string, timeout time.Duration) []string {
	args := []string{"-v", "error", "-hide_banner"}
	args = append(args, inputArgs(source, timeout)...)
	return append(args, "-show_entries", "stream=codec_type,width,height", "-of", "json")
}
