package server

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brisk_sessions_started_total",
			Help: "Sessions created, by kind",
		},
		[]string{"kind"}, // "voluntary", "prompted", "practice"
	)

	sessionsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brisk_sessions_completed_total",
			Help: "Sessions that finished every task",
		},
	)

	sessionsAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brisk_sessions_abandoned_total",
			Help: "Sessions marked abandoned by the sweeper",
		},
	)

	resultsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brisk_results_accepted_total",
			Help: "Accepted task results",
		},
		[]string{"task_type"},
	)

	resultsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brisk_results_rejected_total",
			Help: "Rejected task submissions, by reason",
		},
		[]string{"reason"},
	)

	qualityFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brisk_quality_flags_total",
			Help: "Quality flags raised on submissions",
		},
		[]string{"flag"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brisk_rate_limited_requests_total",
			Help: "Requests rejected by the per-IP limiter",
		},
	)

	metricsOnce sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStartedTotal,
			sessionsCompletedTotal,
			sessionsAbandonedTotal,
			resultsAcceptedTotal,
			resultsRejectedTotal,
			qualityFlagsTotal,
			rateLimitedTotal,
		)
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
