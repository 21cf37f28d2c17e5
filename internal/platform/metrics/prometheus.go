// Package metrics exposes Prometheus collectors for HTTP traffic and
// triage scoring.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	triageScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_scored_total",
			Help: "Total number of triage inputs scored, by priority level",
		},
		[]string{"priority"},
	)

	triageRiskFactors = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_risk_factor_count",
			Help:    "Distribution of risk factor counts per scored triage",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	triageRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_validation_failures_total",
			Help: "Total number of rejected triage inputs, by offending field",
		},
		[]string{"field"},
	)

	alertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_alerts_total",
			Help: "High priority triage alerts, by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count, latency and in-flight requests. Paths
// are labelled with the route template to keep cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordTriageScored records one successful scoring.
func RecordTriageScored(priority string, riskFactorCount int) {
	triageScored.WithLabelValues(priority).Inc()
	triageRiskFactors.Observe(float64(riskFactorCount))
}

// RecordTriageRejected records the fields of one rejected input.
func RecordTriageRejected(fields ...string) {
	for _, f := range fields {
		triageRejected.WithLabelValues(f).Inc()
	}
}

// RecordAlert records the outcome of a high priority alert dispatch.
func RecordAlert(delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "sent"
	}
	alertsSent.WithLabelValues(outcome).Inc()
}
