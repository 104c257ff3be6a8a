package tiles

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemosaic_tile_fetches_total",
		Help: "Network tile fetches by outcome.",
	}, []string{"outcome"})

	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemosaic_tile_fetch_retries_total",
		Help: "Tile fetch attempts beyond the first.",
	})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemosaic_tile_cache_hits_total",
		Help: "Tile cache hits by layer.",
	}, []string{"layer"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemosaic_tile_cache_misses_total",
		Help: "Tile requests that reached the network.",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilemosaic_tile_fetch_duration_seconds",
		Help:    "Wall time of a single tile fetch attempt.",
		Buckets: []float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9},
	})
)
