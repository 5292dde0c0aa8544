package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider (qdrant, chromem), operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks store latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// RetriesTotal counts transient-error retries against Qdrant.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "retries_total",
			Help:      "Total number of retried vector store calls",
		},
		[]string{"operation"},
	)

	// CircuitOpenTotal counts calls rejected by the circuit breaker.
	CircuitOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "circuit_open_total",
			Help:      "Total number of calls rejected while the circuit breaker was open",
		},
	)
)

// observe records the outcome and latency of one operation.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
