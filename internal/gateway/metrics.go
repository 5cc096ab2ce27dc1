// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

var (
	inboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cogbox_gateway_events_total",
		Help: "Total inbound gateway events republished on the bus.",
	}, []string{"kind"})

	sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cogbox_gateway_sends_total",
		Help: "Total outbound sends by result.",
	}, []string{"status"})

	connectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cogbox_gateway_connects_total",
		Help: "Total successful gateway connections.",
	})

	stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cogbox_gateway_connected",
		Help: "1 while the gateway connection is up, 0 otherwise.",
	})
)

// RegisterMetrics registers gateway metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(inboundTotal, sendsTotal, connectsTotal, stateGauge)
}

// RecordInboundEvent counts one republished gateway event.
func RecordInboundEvent(kind string) {
	inboundTotal.WithLabelValues(kind).Inc()
}

// RecordSend counts one outbound send attempt.
func RecordSend(status string) {
	sendsTotal.WithLabelValues(status).Inc()
}

// RecordConnect counts one successful connection.
func RecordConnect() {
	connectsTotal.Inc()
}

// SetState reflects the connection state on the connected gauge.
func SetState(state pluginpkg.ConnState) {
	if state == pluginpkg.ConnConnected {
		stateGauge.Set(1)
		return
	}
	stateGauge.Set(0)
}
