// Package metrics defines the process-wide Prometheus counters and
// histograms, registered on the default registry, per §11's domain-stack
// wiring for github.com/prometheus/client_golang. The `status` tool does not
// report them and no /metrics endpoint serves them.
//
// Grounded on jinterlante1206-AleutianLocal's services/trace/agent/routing
// metrics.go: package-level promauto vectors, namespace/subsystem/name
// triples, no custom Registerer (the default registry is used, matching
// that file's practice).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpawnAttempts counts every spawn attempt made by the client manager,
	// by language and outcome (success, error).
	SpawnAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catenary",
		Subsystem: "manager",
		Name:      "spawn_attempts_total",
		Help:      "Total LSP server spawn attempts by language and outcome",
	}, []string{"language", "outcome"})

	// SpawnDuration measures how long a successful spawn-and-initialize
	// sequence took, by language.
	SpawnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catenary",
		Subsystem: "manager",
		Name:      "spawn_duration_seconds",
		Help:      "Time to spawn and initialize an LSP server",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"language"})

	// RequestsTotal counts every LSP request the dispatcher issued, by
	// language, method, and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catenary",
		Subsystem: "dispatcher",
		Name:      "requests_total",
		Help:      "Total LSP requests issued by language, method, and outcome",
	}, []string{"language", "method", "outcome"})

	// RequestDuration measures round-trip latency for LSP requests, by
	// language and method.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catenary",
		Subsystem: "dispatcher",
		Name:      "request_duration_seconds",
		Help:      "LSP request round-trip latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"language", "method"})

	// RequestTimeouts counts requests that hit the hard 30s cap, by
	// language and method.
	RequestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catenary",
		Subsystem: "dispatcher",
		Name:      "request_timeouts_total",
		Help:      "Requests that exceeded the hard timeout",
	}, []string{"language", "method"})

	// LockOutcomes counts file-lock coordinator decisions, by outcome
	// (granted, denied, stale_read).
	LockOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catenary",
		Subsystem: "filelock",
		Name:      "outcomes_total",
		Help:      "File lock coordinator decisions by outcome",
	}, []string{"outcome"})

	// AliveClients reports, per language, whether its LSP client is
	// currently alive, as a gauge so it reflects live state rather than a
	// cumulative count.
	AliveClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "catenary",
		Subsystem: "manager",
		Name:      "alive_clients",
		Help:      "Whether a language's LSP client is currently alive (1) or not (0)",
	}, []string{"language"})
)

// ObserveRequest records the outcome and latency of one dispatched LSP
// request. err is nil on success; timedOut narrows the outcome label to
// "timeout" instead of the generic "error" so RequestTimeouts and
// RequestsTotal agree on what counts as a timeout.
func ObserveRequest(language, method string, start time.Time, err error, timedOut bool) {
	outcome := "success"
	switch {
	case timedOut:
		outcome = "timeout"
		RequestTimeouts.WithLabelValues(language, method).Inc()
	case err != nil:
		outcome = "error"
	}
	RequestsTotal.WithLabelValues(language, method, outcome).Inc()
	RequestDuration.WithLabelValues(language, method).Observe(time.Since(start).Seconds())
}

// ObserveSpawn records the outcome and duration of one spawn-and-initialize
// attempt.
func ObserveSpawn(language string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	SpawnAttempts.WithLabelValues(language, outcome).Inc()
	if err == nil {
		SpawnDuration.WithLabelValues(language).Observe(time.Since(start).Seconds())
	}
}

// SetAlive updates the alive-clients gauge for one language.
func SetAlive(language string, alive bool) {
	v := 0.0
	if alive {
		v = 1.0
	}
	AliveClients.WithLabelValues(language).Set(v)
}
