// Package metrics registers the Prometheus collectors exposed at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoplate_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecoplate_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	PointsAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoplate_points_awarded_total",
			Help: "Points applied to users, by action (negative deltas are counted separately)",
		},
		[]string{"action", "sign"},
	)

	BadgesAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoplate_badges_awarded_total",
			Help: "Badges awarded, by badge code",
		},
		[]string{"badge"},
	)

	ListingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoplate_listing_transitions_total",
			Help: "Listing status transitions",
		},
		[]string{"from", "to"},
	)

	RecommenderState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecoplate_recommender_circuit_state",
			Help: "Recommender circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	RecommenderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecoplate_recommender_fallbacks_total",
			Help: "Price suggestions served by the local fallback",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecoplate_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	ScheduledJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoplate_scheduled_job_runs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
)

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordPoints(action string, delta int) {
	switch {
	case delta > 0:
		PointsAwarded.WithLabelValues(action, "positive").Add(float64(delta))
	case delta < 0:
		PointsAwarded.WithLabelValues(action, "negative").Add(float64(-delta))
	}
}

func RecordBadge(code string) {
	BadgesAwarded.WithLabelValues(code).Inc()
}

func RecordTransition(from, to string) {
	ListingTransitions.WithLabelValues(from, to).Inc()
}

func RecordJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ScheduledJobRuns.WithLabelValues(job, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
