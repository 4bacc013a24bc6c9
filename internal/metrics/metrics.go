// Package metrics defines the relay's Prometheus collectors. All methods are
// nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strategist"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts dispatched requests.
	// Labels: class, outcome (completed, rejected, failed, accepted)
	RequestsTotal *prometheus.CounterVec

	// ExecDurationSeconds measures worker runs.
	// Labels: target (local, remote), class
	ExecDurationSeconds *prometheus.HistogramVec

	// ConstrainedInFlight is the number of held constrained slots.
	ConstrainedInFlight prometheus.Gauge

	// SpawnWindowUsed is the number of spawns inside the rate window.
	SpawnWindowUsed prometheus.Gauge

	// SegmentsDelivered counts chat segments sent.
	SegmentsDelivered prometheus.Counter

	// JobRunsTotal counts background job runs.
	// Labels: job, status (success, failure)
	JobRunsTotal *prometheus.CounterVec

	// JobDurationSeconds measures background job runs including retries.
	// Labels: job
	JobDurationSeconds *prometheus.HistogramVec

	// ProbeFailuresTotal counts failed freshness probes.
	// Labels: probe
	ProbeFailuresTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with Go/process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Dispatched chat requests by class and outcome.",
		}, []string{"class", "outcome"}),
		ExecDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duration_seconds",
			Help:      "Worker run duration.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"target", "class"}),
		ConstrainedInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "constrained_in_flight",
			Help:      "Constrained tasks currently holding a slot.",
		}),
		SpawnWindowUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "spawn_window_used",
			Help:      "Spawns counted in the current rate window.",
		}),
		SegmentsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "segments_total",
			Help:      "Chat message segments delivered.",
		}),
		JobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Background job runs by status.",
		}, []string{"job", "status"}),
		JobDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Background job duration including retries.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"job"}),
		ProbeFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "freshness",
			Name:      "probe_failures_total",
			Help:      "Freshness probe failures.",
		}, []string{"probe"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Request(class, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) Exec(target, class string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecDurationSeconds.WithLabelValues(target, class).Observe(d.Seconds())
}

func (m *Metrics) Admission(spawnsInWindow, constrainedInFlight int) {
	if m == nil {
		return
	}
	m.SpawnWindowUsed.Set(float64(spawnsInWindow))
	m.ConstrainedInFlight.Set(float64(constrainedInFlight))
}

func (m *Metrics) Segments(n int) {
	if m == nil {
		return
	}
	m.SegmentsDelivered.Add(float64(n))
}

func (m *Metrics) JobRun(job, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDurationSeconds.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) Probe(probe string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ProbeFailuresTotal.WithLabelValues(probe).Inc()
}
