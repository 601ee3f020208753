package safi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auditCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Name:      "audit_completed_total",
		Help:      "Deferred audit results merged into a stored message.",
	})

	auditGaveUpTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Name:      "audit_gave_up_total",
		Help:      "Audit polls abandoned after exhausting the attempt budget.",
	})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Name:      "optimistic_rollbacks_total",
		Help:      "Optimistic edits rolled back after a confirmed server failure.",
	})
)
