package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_tile_requests_total",
		Help: "Total number of tile requests submitted to the fetcher",
	})

	MemoryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_memory_cache_hits_total",
		Help: "Total number of decoded-tile cache hits",
	})

	MemoryCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_memory_cache_misses_total",
		Help: "Total number of decoded-tile cache misses",
	})

	MemoryCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_memory_cache_evictions_total",
		Help: "Total number of decoded tiles evicted from the memory cache",
	})

	DiskCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_disk_cache_hits_total",
		Help: "Total number of disk store hits",
	})

	DiskCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_disk_cache_misses_total",
		Help: "Total number of disk store misses",
	})

	UpstreamRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_upstream_requests_total",
		Help: "Total number of HTTP tile fetches",
	})

	UpstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_upstream_failures_total",
		Help: "Total number of tile fetches that exhausted their retries",
	})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "globeview_upstream_latency_seconds",
		Help:    "Latency of HTTP tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_decode_failures_total",
		Help: "Total number of tile payloads that failed to decode",
	})

	PoolUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_pool_uploads_total",
		Help: "Total number of tile rasters uploaded into the GPU pool",
	})

	PoolReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_pool_reclaims_total",
		Help: "Total number of pool slots reclaimed from older tiles",
	})

	WindowRecenters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globeview_window_recenters_total",
		Help: "Total number of indirection window recenter operations",
	})
)
