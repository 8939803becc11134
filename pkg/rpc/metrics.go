package rpc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the node-level Prometheus counters and histogram every handler
// updates in passing. Kept as package-level collectors, the idiomatic
// client_golang pattern, rather than threaded through every call site.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartwood",
		Name:      "rpc_requests_total",
		Help:      "Total read-API requests, by route and outcome.",
	}, []string{"route", "status"})

	cobFoldDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "heartwood",
		Name:      "cob_fold_duration_seconds",
		Help:      "Time spent materializing a COB's state via fold.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	electionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartwood",
		Name:      "identity_elections_total",
		Help:      "Canonical head elections, by outcome.",
	}, []string{"outcome"})
)

// MetricsHandler returns the standard promhttp handler for /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ObserveFold records how long a fold over a given COB type took.
func ObserveFold(typeName string, seconds float64) {
	cobFoldDuration.WithLabelValues(typeName).Observe(seconds)
}

// ObserveElection increments the election outcome counter ("elected" or
// "quorum_not_met").
func ObserveElection(outcome string) {
	electionsTotal.WithLabelValues(outcome).Inc()
}

func recordRequest(route, status string) {
	requestsTotal.WithLabelValues(route, status).Inc()
}
