package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the application's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	InvoiceTransitionsTotal *prometheus.CounterVec
	ExtractionJobsTotal     *prometheus.CounterVec
	SubmissionsTotal        *prometheus.CounterVec
	BulkImportRowsTotal     *prometheus.CounterVec
}

// New builds the collector set on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvois_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "einvois_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		InvoiceTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvois_invoice_transitions_total",
			Help: "Invoice status transitions by source and target status.",
		}, []string{"from", "to"}),
		ExtractionJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvois_extraction_jobs_total",
			Help: "Extraction pipeline runs by outcome.",
		}, []string{"outcome"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvois_submissions_total",
			Help: "Tax authority submissions by outcome.",
		}, []string{"outcome"}),
		BulkImportRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvois_bulk_import_rows_total",
			Help: "Bulk import rows by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvoiceTransitionsTotal,
		m.ExtractionJobsTotal,
		m.SubmissionsTotal,
		m.BulkImportRowsTotal,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
