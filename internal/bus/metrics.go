// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusPanic = "panic"
)

var (
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cogbox_bus_events_emitted_total",
			Help: "Total number of events emitted, labeled by channel.",
		},
		[]string{"channel"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cogbox_bus_deliveries_total",
			Help: "Total number of handler invocations, labeled by channel and outcome.",
		},
		[]string{"channel", "status"},
	)

	subscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cogbox_bus_subscriptions",
			Help: "Number of registered subscriptions, labeled by channel.",
		},
		[]string{"channel"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cogbox_bus_dispatch_duration_seconds",
			Help:    "Time spent dispatching one event to its subscribers.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"channel"},
	)
)

// RegisterMetrics registers bus metrics with the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(eventsEmitted, deliveries, subscriptions, dispatchDuration)
}

// RecordEventEmitted increments the emission counter for a channel.
func RecordEventEmitted(channel string) {
	eventsEmitted.WithLabelValues(channel).Inc()
}

// RecordDelivery increments the delivery counter for a channel and outcome.
func RecordDelivery(channel, status string) {
	deliveries.WithLabelValues(channel, status).Inc()
}

// RecordSubscriptionOpened increments the subscription gauge for a channel.
func RecordSubscriptionOpened(channel string) {
	subscriptions.WithLabelValues(channel).Inc()
}

// RecordSubscriptionClosed decrements the subscription gauge for a channel.
func RecordSubscriptionClosed(channel string) {
	subscriptions.WithLabelValues(channel).Dec()
}

// RecordDispatchDuration observes one dispatch pass.
func RecordDispatchDuration(channel string, d time.Duration) {
	dispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}
