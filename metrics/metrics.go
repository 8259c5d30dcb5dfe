// Package metrics defines the Prometheus collectors exported by the profiler.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "profiler"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FetchAttempts     *prometheus.CounterVec
	ClassifierVerdict *prometheus.CounterVec
	FieldExtractions  *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	gatherer   prometheus.Gatherer
	registerer prometheus.Registerer
}

// New creates the collectors and registers them with reg
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Page fetch attempts by outcome.",
		}, []string{"outcome"}),
		ClassifierVerdict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_verdicts_total",
			Help:      "Relevance verdicts by result (relevant, irrelevant, fetch_error, model_error).",
		}, []string{"verdict"}),
		FieldExtractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_extractions_total",
			Help:      "Field extraction queries by outcome.",
		}, []string{"outcome"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer:   reg,
		registerer: reg,
	}

	reg.MustRegister(
		m.FetchAttempts,
		m.ClassifierVerdict,
		m.FieldExtractions,
		m.PipelineRuns,
		m.PipelineDuration,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// NewDefault registers against a fresh registry that also carries Go and process collectors
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// RegisterDB exports connection pool statistics for conn
func (m *Metrics) RegisterDB(conn *sql.DB) error {
	if m == nil {
		return nil
	}
	return m.registerer.Register(collectors.NewDBStatsCollector(conn, namespace))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Fetch records one fetch attempt
func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
}

// Verdict records one classifier result
func (m *Metrics) Verdict(verdict string) {
	if m == nil {
		return
	}
	m.ClassifierVerdict.WithLabelValues(verdict).Inc()
}

// Field records one field extraction outcome
func (m *Metrics) Field(outcome string) {
	if m == nil {
		return
	}
	m.FieldExtractions.WithLabelValues(outcome).Inc()
}

// Run records a finished pipeline run
func (m *Metrics) Run(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
}

// Request records a served API request
func (m *Metrics) Request(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
