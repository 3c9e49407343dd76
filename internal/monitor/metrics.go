package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Each Metrics owns its
// registry so tests and embedded servers never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	jobsRunning        prometheus.Gauge
	branchesTotal      *prometheus.CounterVec
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	httpRequestsTotal  *prometheus.CounterVec
	tableCacheRequests *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// jobsTotal counts finished optimization jobs by final status
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantree_jobs_total",
			Help: "Finished optimization jobs by status",
		}, []string{"status"}),

		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quantree_jobs_running",
			Help: "Optimization jobs currently running",
		}),

		// branchesTotal counts evaluated branches by outcome
		branchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantree_branches_total",
			Help: "Evaluated branches by outcome",
		}, []string{"outcome"}),

		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantree_operations_total",
			Help: "Core operations by name and result",
		}, []string{"operation", "result"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantree_operation_duration_seconds",
			Help:    "Core operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"operation"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantree_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),

		tableCacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantree_table_cache_requests_total",
			Help: "Aligned price table cache lookups by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobStarted marks a job as running
func (m *Metrics) JobStarted() {
	m.jobsRunning.Inc()
}

// JobFinished records a job's final status
func (m *Metrics) JobFinished(status string) {
	m.jobsRunning.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
}

// BranchesEvaluated adds n branches with the given outcome (pass, fail, error)
func (m *Metrics) BranchesEvaluated(outcome string, n int) {
	if n > 0 {
		m.branchesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveOperation records one call of a core operation
func (m *Metrics) ObserveOperation(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(route, method, code string) {
	m.httpRequestsTotal.WithLabelValues(route, method, code).Inc()
}

// TableCacheLookup records a hit or miss of the aligned table cache
func (m *Metrics) TableCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.tableCacheRequests.WithLabelValues(result).Inc()
}
