// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cogbox_http_requests_total",
		Help: "Total HTTP requests by method and status.",
	}, []string{"method", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cogbox_http_request_duration_seconds",
		Help:    "HTTP request latency by method.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method"})
)

// RegisterMetrics registers API metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(requestsTotal, requestDuration)
}

// RecordRequest counts one completed request.
func RecordRequest(method string, status int) {
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordRequestDuration records one request's latency.
func RecordRequestDuration(method string, d time.Duration) {
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}
