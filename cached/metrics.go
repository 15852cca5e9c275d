package cached

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lookups counts cache lookups by result (hit, miss, error).
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxcache_lookups_total",
		Help: "Total number of clip cache lookups, by result.",
	}, []string{"result"})

	// persists counts background cache writes by result (stored, exists, failed, aborted).
	persists = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxcache_persist_total",
		Help: "Total number of background cache writes, by result.",
	}, []string{"result"})
)
