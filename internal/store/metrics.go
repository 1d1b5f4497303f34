package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: op (save_memory, recent_memories, ...), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hived",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of durable store operations",
		},
		[]string{"op", "result"},
	)

	// OperationDuration tracks store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hived",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of durable store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func opTimer(op string) *prometheus.Timer {
	return prometheus.NewTimer(OperationDuration.WithLabelValues(op))
}

func opResult(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}
