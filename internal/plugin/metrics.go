// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pluginsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cogbox_plugins_loaded",
			Help: "Number of plugins currently loaded.",
		},
	)

	pluginLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cogbox_plugin_loads_total",
			Help: "Total plugin load attempts, labeled by source kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	pluginUnloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cogbox_plugin_unloads_total",
			Help: "Total plugin unloads, labeled by outcome of the unload hook.",
		},
		[]string{"status"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cogbox_plugin_load_duration_seconds",
			Help:    "Time spent completing one plugin load.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"kind"},
	)

	routesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cogbox_plugin_routes_active",
			Help: "Number of plugin route subtrees currently serving requests.",
		},
	)

	routePanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cogbox_plugin_route_panics_total",
			Help: "Total panics recovered in plugin route handlers, labeled by plugin.",
		},
		[]string{"plugin"},
	)
)

// RegisterMetrics registers plugin lifecycle metrics with the provided
// registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(pluginsLoaded, pluginLoads, pluginUnloads, loadDuration, routesActive, routePanics)
}

// RecordLoad increments the load counter for a source kind and outcome.
func RecordLoad(kind, status string) {
	pluginLoads.WithLabelValues(kind, status).Inc()
}

// RecordLoadDuration observes one completed load.
func RecordLoadDuration(kind string, d time.Duration) {
	loadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordUnload increments the unload counter for an outcome.
func RecordUnload(status string) {
	pluginUnloads.WithLabelValues(status).Inc()
}

// RecordPluginLoaded increments the loaded-plugins gauge.
func RecordPluginLoaded() {
	pluginsLoaded.Inc()
}

// RecordPluginUnloaded decrements the loaded-plugins gauge.
func RecordPluginUnloaded() {
	pluginsLoaded.Dec()
}

// RecordRoutesActivated increments the active-routes gauge.
func RecordRoutesActivated() {
	routesActive.Inc()
}

// RecordRoutesDeactivated decrements the active-routes gauge.
func RecordRoutesDeactivated() {
	routesActive.Dec()
}

// RecordRoutePanic increments the recovered-panic counter for a plugin.
func RecordRoutePanic(plugin string) {
	routePanics.WithLabelValues(plugin).Inc()
}
