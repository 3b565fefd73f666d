// Package metrics exposes panel counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "panel"

// Upload and login outcomes used as label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics tracks process lifecycle, uploads and logins. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	started     prometheus.Counter
	spawnFailed prometheus.Counter
	stopped     *prometheus.CounterVec
	exited      prometheus.Counter
	uploads     *prometheus.CounterVec
	logins      *prometheus.CounterVec
}

var _ supervisor.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_started_total",
			Help:      "Child processes spawned.",
		}),
		spawnFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Start requests that failed to create a process.",
		}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_stopped_total",
			Help:      "Stop requests that terminated a live process, by how it ended.",
		}, []string{"result"}),
		exited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_exited_total",
			Help:      "Processes that exited on their own and were reaped.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Artifact uploads by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login and OTP attempts by step and outcome.",
		}, []string{"step", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.started,
		m.spawnFailed,
		m.stopped,
		m.exited,
		m.uploads,
		m.logins,
	)
	return m
}

// TrackRunning exports fn as the live child process gauge.
func (m *Metrics) TrackRunning(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "processes_running",
		Help:      "Child processes currently supervised.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProcessStarted(string) {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *Metrics) SpawnFailed(string) {
	if m == nil {
		return
	}
	m.spawnFailed.Inc()
}

func (m *Metrics) ProcessStopped(_ string, result supervisor.StopResult) {
	if m == nil {
		return
	}
	m.stopped.WithLabelValues(string(result)).Inc()
}

func (m *Metrics) ProcessExited(string) {
	if m == nil {
		return
	}
	m.exited.Inc()
}

func (m *Metrics) RecordUpload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// RecordLogin counts one attempt; step is "password" or "otp".
func (m *Metrics) RecordLogin(step, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(step, outcome).Inc()
}
