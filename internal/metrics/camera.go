// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReaderConnectsTotal counts connection attempts by outcome
	// (ok, unreachable, unauthorized, read_error).
	ReaderConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_reader_connects_total",
		Help: "Total number of stream connection attempts by result",
	}, []string{"camera", "result"})

	cameraHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_camera_health",
		Help: "Current camera health state (1 for the active state, 0 otherwise)",
	}, []string{"camera", "state"})

	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_frames_processed_total",
		Help: "Total number of frames processed by the camera pipeline",
	}, []string{"camera"})

	FramesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_frames_skipped_total",
		Help: "Total number of pipeline iterations without a new frame",
	}, []string{"camera"})

	MotionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_motion_events_total",
		Help: "Total number of motion transitions",
	}, []string{"camera", "kind"})

	PipelinePanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_pipeline_panics_total",
		Help: "Total number of recovered panics in per-camera loops",
	}, []string{"camera", "loop"})

	CameraFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_camera_fps",
		Help: "Rolling processed frames per second",
	}, []string{"camera"})

	CamerasRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_cameras_running",
		Help: "Number of camera pipelines currently registered",
	})
)

var healthStates = []string{"starting", "connected", "unreachable", "unauthorized"}

// SetCameraHealth records the active health state for a camera.
func SetCameraHealth(camera, state string) {
	for _, s := range healthStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		cameraHealth.WithLabelValues(camera, s).Set(value)
	}
}

// IncReaderConnect records a connection attempt outcome.
func IncReaderConnect(camera, result string) {
	ReaderConnectsTotal.WithLabelValues(camera, result).Inc()
}

// IncMotionEvent records a motion start or end.
func IncMotionEvent(camera, kind string) {
	MotionEventsTotal.WithLabelValues(camera, kind).Inc()
}

// IncPipelinePanic records a recovered panic.
func IncPipelinePanic(camera, loop string) {
	PipelinePanicsTotal.WithLabelValues(camera, loop).Inc()
}

// ForgetCamera drops per-camera series once a camera is stopped.
func ForgetCamera(camera string) {
	for _, s := range healthStates {
		cameraHealth.DeleteLabelValues(camera, s)
	}
	CameraFPS.DeleteLabelValues(camera)
}
