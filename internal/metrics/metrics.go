// Package metrics holds the Prometheus collectors of the generation pipeline
// and the job queue. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics handles Prometheus metrics collection
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	illustrations    *prometheus.CounterVec
	duplicatesTotal  prometheus.Counter
	queueJobs        *prometheus.GaugeVec
	httpRequestTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_runs_total",
				Help: "Finished generation runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "generation_stage_duration_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		illustrations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_illustrations_total",
				Help: "Step illustrations by outcome",
			},
			[]string{"outcome"},
		),
		duplicatesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_duplicates_total",
				Help: "Generated drafts merged into an existing recipe",
			},
		),
		queueJobs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_jobs",
				Help: "Jobs in the generation queue by state",
			},
			[]string{"state"},
		),
		httpRequestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		gatherer: reg,
	}
}

func (m *Metrics) RunFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveStage records the time since start for a stage
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Illustration(outcome string) {
	if m == nil {
		return
	}
	m.illustrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}

// SetQueueCounts replaces the queue gauges
func (m *Metrics) SetQueueCounts(counts map[string]int64) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.queueJobs.WithLabelValues(state).Set(float64(n))
	}
}

// HTTPRequest counts one served request
func (m *Metrics) HTTPRequest(method, path, status string) {
	if m == nil {
		return
	}
	m.httpRequestTotal.WithLabelValues(method, path, status).Inc()
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
