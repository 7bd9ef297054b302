// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_events_dropped_total",
		Help: "Total number of pipeline events dropped because the event channel was full",
	}, []string{"camera", "type"})

	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_events_emitted_total",
		Help: "Total number of pipeline events queued for delivery",
	}, []string{"camera", "type"})
)

// IncEventDropped records a pipeline event lost to backpressure.
func IncEventDropped(camera, eventType string) {
	if camera == "" {
		camera = "unknown"
	}
	if eventType == "" {
		eventType = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(camera, eventType).Inc()
}

// IncEventEmitted records a pipeline event accepted by the event channel.
func IncEventEmitted(camera, eventType string) {
	EventsEmittedTotal.WithLabelValues(camera, eventType).Inc()
}
