package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PackageBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_package_build_failed",
			Help: "Number of times a package has failed to build",
		},
		[]string{"pkg", "error_type"},
	)

	PackageBuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_package_build_count",
			Help: "Total number of package build attempts",
		},
	)

	PackageBuildRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_package_build_retries",
			Help: "Number of build attempts that were retries of a failed attempt",
		},
	)

	PackageBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_package_build_duration_seconds",
			Help:    "Package build duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"pkg"},
	)

	LastPackageBuildStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_last_package_build_start_timestamp",
			Help: "Unix timestamp of when the last build of a package started",
		},
		[]string{"pkg"},
	)

	LastPackageBuildEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_last_package_build_end_timestamp",
			Help: "Unix timestamp of when the last build of a package ended",
		},
		[]string{"pkg"},
	)
)
