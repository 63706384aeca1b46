package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stepdocs", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stepdocs", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stepdocs", Name: "document_operations_total", Help: "Document mutations by operation and outcome."},
		[]string{"operation", "result"},
	)
	TransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "stepdocs", Name: "transaction_duration_seconds", Help: "Duration of document transactions.", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
	CleanupDeletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stepdocs", Name: "cleanup_deletions_total", Help: "Orphaned external objects handed to the storage gateway, by outcome."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOperations)
	reg.MustRegister(TransactionDuration)
	reg.MustRegister(CleanupDeletions)
}
