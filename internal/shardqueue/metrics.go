package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safi_sync",
			Subsystem: "shardqueue",
			Name:      "submissions_total",
			Help:      "Jobs accepted into a shard queue.",
		},
		[]string{"shard"},
	)

	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safi_sync",
			Subsystem: "shardqueue",
			Name:      "queue_full_total",
			Help:      "Submissions rejected because a shard queue was full.",
		},
		[]string{"shard"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safi_sync",
			Subsystem: "shardqueue",
			Name:      "queue_depth",
			Help:      "Jobs waiting in a shard queue.",
		},
		[]string{"shard"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "safi_sync",
			Subsystem: "shardqueue",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single job run.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
