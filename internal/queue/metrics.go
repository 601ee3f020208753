package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuedWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "queue",
		Name:      "queued_writes_total",
		Help:      "Writes persisted for later replay.",
	})

	flushSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "queue",
		Name:      "flush_success_total",
		Help:      "Queued writes confirmed during a flush.",
	})

	flushFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "queue",
		Name:      "flush_failure_total",
		Help:      "Queued writes that failed a flush attempt.",
	})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "queue",
		Name:      "dead_letters_total",
		Help:      "Queued writes abandoned after exhausting retries.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "safi_sync",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Entries currently persisted in the write queue.",
	})
)
