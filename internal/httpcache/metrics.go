package httpcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Reads served from the local response cache.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safi_sync",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Reads that found no usable cached response.",
	})
)
