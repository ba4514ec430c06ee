// Package metrics wires Prometheus instrumentation through the session,
// grounded on the teacher's own promauto + CounterVec/HistogramVec idiom
// (internal/middleware/metrics.go). Unlike the teacher, which registers
// its collectors against the global default registry via package-level
// promauto vars, this package gives each Metrics instance its own
// *prometheus.Registry: a library that may be constructed more than once
// per process (tests, multiple Sessions) cannot share the teacher's
// package-global registration without panicking on duplicate metric
// names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector a Session reports to.
type Metrics struct {
	Registry *prometheus.Registry

	AdmissionsTotal         *prometheus.CounterVec
	AdmissionWaitSeconds    *prometheus.HistogramVec
	CacheLookupsTotal       *prometheus.CounterVec
	DispatchRequestDuration prometheus.Histogram
	BackendErrorsTotal      *prometheus.CounterVec
}

// New constructs a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		AdmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ratecache_admissions_total",
			Help: "Total admission attempts by algorithm, scope, and outcome.",
		}, []string{"algorithm", "scope", "outcome"}),
		AdmissionWaitSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratecache_admission_wait_seconds",
			Help:    "Admission Retry wait durations by algorithm and scope.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"algorithm", "scope"}),
		CacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ratecache_cache_lookups_total",
			Help: "Total cache lookups by outcome (hit, miss).",
		}, []string{"outcome"}),
		DispatchRequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratecache_dispatch_request_duration_seconds",
			Help:    "End-to-end duration of one dispatched request.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		BackendErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ratecache_backend_errors_total",
			Help: "Total backend operation failures by operation; the backend label is always \"backend\".",
		}, []string{"backend", "op"}),
	}
}
