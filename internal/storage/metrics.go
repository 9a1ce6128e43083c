package storage

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	qt = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "storage_query_duration_seconds",
		Help: "The duration of the executed SQL queries.",
	})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_device_cache_count",
		Help: "The number of device cache lookups (per result).",
	}, []string{"result"})

	cacheHits   int64
	cacheMisses int64
)

func storageQueryTimer(d time.Duration) {
	qt.Observe(d.Seconds())
}

func deviceCacheHit() {
	dc.With(prometheus.Labels{"result": "hit"}).Inc()
	atomic.AddInt64(&cacheHits, 1)
}

func deviceCacheMiss() {
	dc.With(prometheus.Labels{"result": "miss"}).Inc()
	atomic.AddInt64(&cacheMisses, 1)
}

// CacheStats holds the device cache counters since start.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// GetCacheStats returns the device cache counters since start.
func GetCacheStats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&cacheHits),
		Misses: atomic.LoadInt64(&cacheMisses),
	}
}
