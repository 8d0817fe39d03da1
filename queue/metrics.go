package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	batchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pendingq_batches_total",
		Help: "Mutation batches processed by the queue, by operation",
	}, []string{"op", "engine"})

	batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pendingq_batch_mutations",
		Help:    "Number of mutations per added batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"engine"})
)

func init() {
	prometheus.MustRegister(batchCounter, batchSize)
}
