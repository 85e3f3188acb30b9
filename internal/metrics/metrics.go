// Package metrics exposes Prometheus collectors for the analysis pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Year outcomes recorded by YearProcessed.
const (
	YearSucceeded = "succeeded"
	YearSkipped   = "skipped"
	YearFailed    = "failed"
)

// Metrics holds the service collectors on a private registry. All methods
// are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	yearsTotal      *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	activeJobs      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	reportCacheHits *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biomass_jobs_total",
				Help: "Analysis jobs by terminal state",
			},
			[]string{"state"}, // succeeded, failed
		),
		yearsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biomass_years_processed_total",
				Help: "Per-year pipeline iterations by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "biomass_job_duration_seconds",
				Help:    "Wall time of analysis jobs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
		),
		activeJobs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "biomass_active_jobs",
				Help: "Analysis jobs currently running",
			},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biomass_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biomass_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		reportCacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biomass_report_cache_requests_total",
				Help: "Report series cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) JobFinished(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsTotal.WithLabelValues(state).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) YearProcessed(outcome string) {
	if m == nil {
		return
	}
	m.yearsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReportCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCacheHits.WithLabelValues(result).Inc()
}

// ObserveRequest records one served request. route should be the router
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
