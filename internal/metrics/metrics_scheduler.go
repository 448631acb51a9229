package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_workers_busy",
			Help: "Number of workers currently running a build pipeline",
		},
	)

	PackagesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_packages_scheduled_total",
			Help: "Total number of packages handed to workers",
		},
	)
)
