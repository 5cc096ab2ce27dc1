// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cogbox_realtime_clients",
		Help: "Number of connected websocket clients.",
	})

	broadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cogbox_realtime_broadcasts_total",
		Help: "Total broadcast frames fanned out.",
	}, []string{"topic"})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cogbox_realtime_dropped_total",
		Help: "Total frames dropped because a client's queue was full.",
	}, []string{"topic"})
)

// RegisterMetrics registers realtime metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(clientsGauge, broadcastsTotal, droppedTotal)
}

// SetClients records the current client count.
func SetClients(n int) {
	clientsGauge.Set(float64(n))
}

// RecordBroadcast counts a broadcast frame.
func RecordBroadcast(topic string) {
	broadcastsTotal.WithLabelValues(topic).Inc()
}

// RecordDropped counts a frame dropped for a slow client.
func RecordDropped(topic string) {
	droppedTotal.WithLabelValues(topic).Inc()
}
