// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordingsTotal counts finished recordings by strategy and result
	// (completed, discarded, broken, start_failed).
	RecordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_recordings_total",
		Help: "Total number of recordings by strategy and result",
	}, []string{"camera", "strategy", "result"})

	PassthroughFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_passthrough_fallbacks_total",
		Help: "Total number of times a camera fell back from passthrough to encode",
	}, []string{"camera"})

	RecordingBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_recording_bytes",
		Help:    "Size of validated recordings",
		Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
	}, []string{"strategy"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_snapshots_total",
		Help: "Total number of snapshots written by trigger",
	}, []string{"camera", "trigger"})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_proc_terminate_total",
		Help: "Signals sent to child process groups by outcome",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_proc_wait_total",
		Help: "Child process exits observed during termination",
	}, []string{"result"})
)

// IncRecording records a finished recording.
func IncRecording(camera, strategy, result string) {
	RecordingsTotal.WithLabelValues(camera, strategy, result).Inc()
}

// IncPassthroughFallback records passthrough being disabled for a camera.
func IncPassthroughFallback(camera string) {
	PassthroughFallbacksTotal.WithLabelValues(camera).Inc()
}

// IncSnapshot records a written snapshot.
func IncSnapshot(camera, trigger string) {
	SnapshotsTotal.WithLabelValues(camera, trigger).Inc()
}

// IncProcTerminate records a termination signal outcome.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process exited.
func IncProcWait(result string) {
	procWaitTotal.WithLabelValues(result).Inc()
}
