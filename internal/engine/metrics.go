package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "simularity",
		Subsystem: "engine",
		Name:      "sessions_created_total",
		Help:      "Total sessions created",
	})

	sessionsEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simularity",
		Subsystem: "engine",
		Name:      "sessions_evicted_total",
		Help:      "Total sessions evicted, by trigger",
	}, []string{"trigger"})

	decodeBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "simularity",
		Subsystem: "engine",
		Name:      "decode_batches_total",
		Help:      "Total decode batches submitted to the runtime",
	})

	tokensInferred = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "simularity",
		Subsystem: "engine",
		Name:      "tokens_inferred_total",
		Help:      "Total tokens produced by inference",
	})
)

func init() {
	prometheus.MustRegister(sessionsCreated, sessionsEvicted, decodeBatches, tokensInferred)
}
