// Package metrics exposes Prometheus instrumentation for the daemon.
//
// A nil *Metrics is valid and records nothing, so components accept one
// unconditionally and metrics stay off unless metrics.enabled is set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atticqueue/internal/queue"
)

const namespace = "atticqueue"

// Metrics holds every collector the daemon updates.
type Metrics struct {
	registry       *prometheus.Registry
	enqueued       prometheus.Counter
	resolves       *prometheus.CounterVec
	filtered       *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	claimConflicts prometheus.Counter
	inflight       prometheus.Gauge
	queueEntries   *prometheus.GaugeVec
	recovery       *prometheus.CounterVec
}

// New registers collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Store paths newly queued for upload",
		}),
		resolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Closure resolutions by result",
		}, []string{"result"}), // "ok", "error"
		filtered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_paths_total",
			Help:      "Closure members not queued, by reason",
		}, []string{"reason"}), // "trusted", "cached", "pending"
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome",
		}, []string{"outcome"}),
		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Wall time of successful uploads",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		claimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Claims lost to another worker or a state change",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_in_flight",
			Help:      "Upload workers currently running",
		}),
		queueEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_entries",
			Help:      "Work store entries by state at the last scan",
		}, []string{"state"}),
		recovery: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Boot recovery actions by kind",
		}, []string{"action"}), // "removed", "requeued", "repaired", "kept"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Enqueued counts n newly queued paths.
func (m *Metrics) Enqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueued.Add(float64(n))
}

// ResolveFinished records one closure resolution and its filter counts.
func (m *Metrics) ResolveFinished(err error, trusted, cached, pending int) {
	if m == nil {
		return
	}
	if err != nil {
		m.resolves.WithLabelValues("error").Inc()
	} else {
		m.resolves.WithLabelValues("ok").Inc()
	}
	m.filtered.WithLabelValues("trusted").Add(float64(trusted))
	m.filtered.WithLabelValues("cached").Add(float64(cached))
	m.filtered.WithLabelValues("pending").Add(float64(pending))
}

// UploadFinished records a worker outcome and, for uploads, their duration.
func (m *Metrics) UploadFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if outcome == "uploaded" {
		m.uploadDuration.Observe(elapsed.Seconds())
	}
}

// ClaimConflict counts a lost claim.
func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// WorkerStarted increments the in-flight gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// WorkerDone decrements the in-flight gauge.
func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// ObserveQueue publishes per-state entry counts.
func (m *Metrics) ObserveQueue(counts queue.Counts) {
	if m == nil {
		return
	}
	m.queueEntries.WithLabelValues(string(queue.StateQueued)).Set(float64(counts.Queued))
	m.queueEntries.WithLabelValues(string(queue.StateInProgress)).Set(float64(counts.InProgress))
	m.queueEntries.WithLabelValues("corrupt").Set(float64(counts.Corrupt))
}

// RecoveryAction counts n recovery actions of one kind.
func (m *Metrics) RecoveryAction(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recovery.WithLabelValues(action).Add(float64(n))
}
