// Package metrics provides Prometheus metrics for the assembly service.
// A nil *Metrics is valid and records nothing, so library code can take one
// optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	ModelCallsTotal     *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	WidgetsTotal        *prometheus.CounterVec
	CommitsTotal        *prometheus.CounterVec
	ImageJobsTotal      *prometheus.CounterVec
	ImageQueueDepth     prometheus.Gauge
	TranscriptionsTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_turns_total",
				Help: "Conversation turns by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cristos_turn_duration_seconds",
				Help:    "End-to-end turn processing time.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"source"},
		),
		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_model_calls_total",
				Help: "Language model calls by purpose and result.",
			},
			[]string{"purpose", "result"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_retries_total",
				Help: "Retried external calls by service and reason.",
			},
			[]string{"service", "reason"},
		),
		WidgetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_widgets_total",
				Help: "Widgets parsed from model output by type and whether they applied.",
			},
			[]string{"type", "applied"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_commits_total",
				Help: "Project commit attempts by result.",
			},
			[]string{"result"},
		),
		ImageJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_image_jobs_total",
				Help: "Cover image jobs by result.",
			},
			[]string{"result"},
		),
		ImageQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cristos_image_queue_depth",
				Help: "Cover image jobs waiting for a worker.",
			},
		),
		TranscriptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_transcriptions_total",
				Help: "Transcription calls by result.",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cristos_http_requests_total",
				Help: "HTTP API requests by route and status class.",
			},
			[]string{"route", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ModelCallsTotal,
		m.RetriesTotal,
		m.WidgetsTotal,
		m.CommitsTotal,
		m.ImageJobsTotal,
		m.ImageQueueDepth,
		m.TranscriptionsTotal,
		m.HTTPRequestsTotal,
	)

	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts a finished turn and its duration.
func (m *Metrics) RecordTurn(source, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(source, outcome).Inc()
	m.TurnDuration.WithLabelValues(source).Observe(seconds)
}

// RecordModelCall counts a model call.
func (m *Metrics) RecordModelCall(purpose, result string) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(purpose, result).Inc()
}

// RecordRetry counts one retry of an external call.
func (m *Metrics) RecordRetry(service, reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(service, reason).Inc()
}

// RecordWidget counts a parsed widget.
func (m *Metrics) RecordWidget(widgetType string, applied bool) {
	if m == nil {
		return
	}
	a := "false"
	if applied {
		a = "true"
	}
	m.WidgetsTotal.WithLabelValues(widgetType, a).Inc()
}

// RecordCommit counts a commit attempt.
func (m *Metrics) RecordCommit(result string) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(result).Inc()
}

// RecordImageJob counts an image job outcome.
func (m *Metrics) RecordImageJob(result string) {
	if m == nil {
		return
	}
	m.ImageJobsTotal.WithLabelValues(result).Inc()
}

// SetImageQueueDepth sets the image queue gauge.
func (m *Metrics) SetImageQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ImageQueueDepth.Set(float64(n))
}

// RecordTranscription counts a transcription call.
func (m *Metrics) RecordTranscription(result string) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(result).Inc()
}

// RecordHTTP counts an API request.
func (m *Metrics) RecordHTTP(route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}
