package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	storeDiscoveries = "discoveries"
	storeTraffic     = "traffic"
)

var (
	// CacheHits tracks lookups answered from the cache by store
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edsm_cache_hits_total",
			Help: "Total number of cache lookups answered without a fetch",
		},
		[]string{"store"}, // "discoveries", "traffic"
	)

	// CacheMisses tracks lookups that require a fetch
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edsm_cache_misses_total",
			Help: "Total number of cache lookups that require a fetch",
		},
		[]string{"store"},
	)

	// CacheFlushes tracks successful atomic writes
	CacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edsm_cache_flushes_total",
			Help: "Total number of successful cache file writes",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edsm_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "load", "flush"
	)

	// CacheEntries tracks the number of entries held by store
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edsm_cache_entries",
			Help: "Current number of entries in the cache",
		},
		[]string{"store"},
	)
)
