package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GitSnapshotFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_git_snapshot_failed_total",
			Help: "Total number of failed git source snapshots",
		},
		[]string{"pkg"},
	)

	GitSnapshotCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_git_snapshot_count_total",
			Help: "Total number of git source snapshot operations",
		},
	)

	GitSnapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_git_snapshot_duration_seconds",
			Help:    "Git source snapshot duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pkg", "url"},
	)
)
