// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration is labelled with the chi route pattern, never the
	// raw path, to bound cardinality.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_http_request_duration_seconds",
		Help:    "Control API request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_http_requests_in_flight",
		Help: "Current number of control API requests being served",
	})

	HTTPAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_http_auth_failures_total",
		Help: "Requests rejected for a missing or wrong shared secret",
	})
)
