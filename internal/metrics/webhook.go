// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts outbound notifications by result
	// (ok, http_error, transport_error, rate_limited, circuit_open).
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_webhook_requests_total",
		Help: "Total number of outbound event notifications by type and result",
	}, []string{"type", "result"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_webhook_duration_seconds",
		Help:    "Latency of outbound event notifications",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

// IncWebhook records an outbound notification outcome.
func IncWebhook(eventType, result string) {
	WebhookRequestsTotal.WithLabelValues(eventType, result).Inc()
}
