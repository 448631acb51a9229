package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PackagingFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_packaging_failed_total",
			Help: "Total number of failed artifact packaging operations",
		},
		[]string{"pkg"},
	)

	ArtifactCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_artifacts_total",
			Help: "Total number of artifacts written to the artifact store",
		},
	)

	ArtifactBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_artifact_bytes_total",
			Help: "Total size of artifacts written to the artifact store",
		},
	)

	MirrorUploadFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_mirror_upload_failed_total",
			Help: "Total number of failed artifact mirror uploads",
		},
		[]string{"pkg"},
	)
)
