package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docflow"

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	recoveryActions *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	pollErrors      prometheus.Counter
	cleanupFiles    prometheus.Counter
	cleanupBytes    prometheus.Counter
	tickDuration    *prometheus.HistogramVec
	jobsByStatus    *prometheus.GaugeVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Jobs created, by stage and trigger.",
		}, []string{"stage", "trigger"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached FINISHED, by stage.",
		}, []string{"stage"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Job failures handled, by stage and error category.",
		}, []string{"stage", "category"}),
		recoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Stuck job recovery actions, by action.",
		}, []string{"action"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound stage webhooks, by outcome.",
		}, []string{"outcome"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Transport errors while polling the remote worker.",
		}),
		cleanupFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_files_deleted_total",
			Help:      "Remote files released by the cleanup worker.",
		}),
		cleanupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_bytes_freed_total",
			Help:      "Remote bytes released by the cleanup worker.",
		}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_tick_duration_seconds",
			Help:      "Duration of one worker tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"worker"}),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs currently stored, by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsCreated,
		m.jobsFinished,
		m.jobsFailed,
		m.recoveryActions,
		m.webhooks,
		m.pollErrors,
		m.cleanupFiles,
		m.cleanupBytes,
		m.tickDuration,
		m.jobsByStatus,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) JobCreated(stage, trigger string) {
	if m == nil {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.jobsCreated.WithLabelValues(stage, trigger).Inc()
}

func (m *Metrics) JobFinished(stage string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(stage).Inc()
}

func (m *Metrics) JobFailed(stage, category string) {
	if m == nil {
		return
	}
	m.jobsFailed.WithLabelValues(stage, category).Inc()
}

func (m *Metrics) RecoveryAction(action string) {
	if m == nil {
		return
	}
	m.recoveryActions.WithLabelValues(action).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) CleanupFreed(files, bytes int64) {
	if m == nil {
		return
	}
	if files > 0 {
		m.cleanupFiles.Add(float64(files))
	}
	if bytes > 0 {
		m.cleanupBytes.Add(float64(bytes))
	}
}

// ObserveTick records how long one worker tick took.
func (m *Metrics) ObserveTick(worker string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// SetJobCounts replaces the per-status gauge values.
func (m *Metrics) SetJobCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.jobsByStatus.Reset()
	for status, n := range counts {
		m.jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
