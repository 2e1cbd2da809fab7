// Package metrics exposes the engine's runtime counters as Prometheus
// metrics, mirroring internal/api/observability.go's single
// package-level-vars-registered-once idiom.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the tick engine and ingress layer record.
// A zero Registry (not constructed via New) is unsafe to use - callers
// always go through New so the promauto registrations happen exactly once.
type Registry struct {
	TickDuration       prometheus.Histogram
	PropagatorDuration *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	QueueDropped       prometheus.Counter
	SparseLive         prometheus.Gauge
	SparseRetired      prometheus.Gauge
	Generation         prometheus.Gauge
	TickID             prometheus.Gauge
	CommandsApplied    prometheus.Counter
	CommandsRejected   *prometheus.CounterVec
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer for a process-wide singleton.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murk_tick_duration_seconds",
			Help:    "Wall-clock duration of a single engine tick.",
			Buckets: prometheus.DefBuckets,
		}),
		PropagatorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "murk_propagator_duration_seconds",
			Help:    "Per-propagator step duration within a tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"propagator"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murk_ingress_queue_depth",
			Help: "Approximate number of commands currently queued.",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "murk_ingress_queue_dropped_total",
			Help: "Commands rejected because the ingress queue was full.",
		}),
		SparseLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murk_sparse_live_entries",
			Help: "Live entries across all sparse slabs.",
		}),
		SparseRetired: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murk_sparse_retired_entries",
			Help: "Retired entries awaiting their reclaim horizon.",
		}),
		Generation: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murk_generation",
			Help: "Last published ping-pong arena generation.",
		}),
		TickID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murk_tick_id",
			Help: "Last completed tick id.",
		}),
		CommandsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "murk_commands_applied_total",
			Help: "Commands successfully applied at the start of a tick.",
		}),
		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murk_commands_rejected_total",
			Help: "Commands rejected at ingress, by reason.",
		}, []string{"reason"}),
	}
}

// Mount wires /metrics and /healthz onto r, the same router-mounting shape
// internal/api/router.go uses, shrunk to the two ambient endpoints this
// engine actually needs (no game/stream HTTP surface survives).
func Mount(r chi.Router, healthz http.HandlerFunc) {
	r.Handle("/metrics", promhttp.Handler())
	if healthz != nil {
		r.Get("/healthz", healthz)
	}
}
