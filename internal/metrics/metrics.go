package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/broadcast-server-go/internal/model"
)

const namespace = "broadcast"

// Metrics holds the server's collectors. Each instance owns its registry so
// tests can build one without touching the global default.
type Metrics struct {
	registry *prometheus.Registry

	dispatchSchedules *prometheus.CounterVec
	dispatchTargets   *prometheus.CounterVec
	dispatchDuration  prometheus.Histogram
	markRunFailures   prometheus.Counter
	loginAttempts     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchSchedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_schedules_total",
			Help:      "Schedules processed by dispatch, by outcome.",
		}, []string{"outcome"}),
		dispatchTargets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_targets_total",
			Help:      "Per-target dispatch results: delivered, failed or not_attempted.",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_run_duration_seconds",
			Help:      "Duration of one dispatch pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		markRunFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mark_run_failures_total",
			Help:      "last_run writes that failed after delivery was attempted.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login handshake steps, by step and result.",
		}, []string{"step", "result"}),
	}

	m.registry.MustRegister(
		m.dispatchSchedules,
		m.dispatchTargets,
		m.dispatchDuration,
		m.markRunFailures,
		m.loginAttempts,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DispatchFinished records one finished dispatch pass.
func (m *Metrics) DispatchFinished(_ context.Context, report *model.DispatchReport) {
	m.dispatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	for i := range report.Schedules {
		s := &report.Schedules[i]
		m.dispatchSchedules.WithLabelValues(string(s.Outcome)).Inc()
		if d := s.Delivered(); d > 0 {
			m.dispatchTargets.WithLabelValues("delivered").Add(float64(d))
		}
		if f := s.Failed(); f > 0 {
			m.dispatchTargets.WithLabelValues("failed").Add(float64(f))
		}
		if n := s.NotAttempted(); n > 0 {
			m.dispatchTargets.WithLabelValues("not_attempted").Add(float64(n))
		}
		if s.MarkRunError != "" {
			m.markRunFailures.Inc()
		}
	}
}

func (m *Metrics) LoginAttempt(step, result string) {
	m.loginAttempts.WithLabelValues(step, result).Inc()
}
