// Package metrics exposes the Prometheus instrumentation named in
// SPEC_FULL.md §11: counts and latencies for ingress dispatch, plus a
// live gauge of active tunnels, grounded on NVIDIA-OSMO's use of
// prometheus/client_golang for service-level gauges/counters/histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the collectors the server wires into its handlers.
type Registry struct {
	ActiveTunnels   prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid polluting the
// default global registry across test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ActiveTunnels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wormhole_active_tunnels",
			Help: "Number of tunnels currently registered and accepting traffic.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wormhole_requests_total",
			Help: "Public ingress requests dispatched, labeled by outcome status.",
		}, []string{"status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wormhole_request_duration_seconds",
			Help:    "Time from ingress accept to reply written.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}
}
