package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	diRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "di_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	diRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "di_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	diCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "di_ledger_commits_total",
		Help: "Total confirmed ledger commits by contract method.",
	}, []string{"method"})

	diValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "di_validations_total",
		Help: "Total integrity validations by result and kind (audited or quick).",
	}, []string{"kind", "result"})

	diHealthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "di_health_probes_total",
		Help: "Total backend health probes by result.",
	}, []string{"result"})

	diCommitHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "di_commit_height",
		Help: "Last observed backend commit sequence.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		diRequestsTotal.WithLabelValues(method, path, status).Inc()
		diRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCommit counts a confirmed commit for a contract method.
func RecordCommit(method string) {
	diCommitsTotal.WithLabelValues(method).Inc()
}

// RecordValidation counts one integrity check. kind is "audited" or "quick".
func RecordValidation(kind string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	diValidationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordHealthProbe counts a backend health probe result.
func RecordHealthProbe(success bool) {
	if success {
		diHealthProbesTotal.WithLabelValues("success").Inc()
	} else {
		diHealthProbesTotal.WithLabelValues("failure").Inc()
	}
}

// SetCommitHeight sets the commit height gauge.
func SetCommitHeight(seq uint64) {
	diCommitHeight.Set(float64(seq))
}
