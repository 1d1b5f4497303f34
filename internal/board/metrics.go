package board

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishesTotal counts published signals.
	// Labels: direction (bullish, bearish, neutral)
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hived",
			Subsystem: "board",
			Name:      "publishes_total",
			Help:      "Total number of signals published to the board",
		},
		[]string{"direction"},
	)

	// LiveSignals tracks the current number of live signals.
	LiveSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hived",
			Subsystem: "board",
			Name:      "live_signals",
			Help:      "Current number of live signals on the board",
		},
	)

	// PersistsTotal counts background persistence writes.
	// Labels: result (success, duplicate, error)
	PersistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hived",
			Subsystem: "board",
			Name:      "persists_total",
			Help:      "Total number of background signal persistence writes",
		},
		[]string{"result"},
	)

	// PersistDroppedTotal counts writes dropped due to a full queue.
	PersistDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hived",
			Subsystem: "board",
			Name:      "persist_dropped_total",
			Help:      "Total number of persistence writes dropped because the queue was full",
		},
	)

	// SweepPrunedTotal counts signals removed by sweeps.
	SweepPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hived",
			Subsystem: "board",
			Name:      "sweep_pruned_total",
			Help:      "Total number of expired signals pruned from the board",
		},
	)
)
