package persistence

import "github.com/prometheus/client_golang/prometheus"

var (
	txnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pendingq_transaction_duration_seconds",
		Help:    "Duration of persistence transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"label"})

	txnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pendingq_transaction_failures_total",
		Help: "Persistence transactions that were rolled back",
	}, []string{"label"})
)

func init() {
	prometheus.MustRegister(txnDuration, txnFailures)
}
