package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_fetch_failed_total",
			Help: "Total number of failed source fetches",
		},
		[]string{"pkg"},
	)

	FetchCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_fetch_count_total",
			Help: "Total number of source fetch operations",
		},
	)

	FetchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_fetch_cache_hits_total",
			Help: "Total number of fetches satisfied from the download cache",
		},
	)

	FetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_fetch_bytes_total",
			Help: "Total number of bytes downloaded",
		},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_fetch_duration_seconds",
			Help:    "Source fetch duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pkg"},
	)
)
