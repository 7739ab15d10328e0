package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Files accepted by the ingress path",
		},
		[]string{"class"},
	)

	uploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_upload_bytes_total",
			Help: "Bytes of accepted originals",
		},
		[]string{"class"},
	)

	duplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_duplicate_uploads_total",
			Help: "Uploads answered with an existing file",
		},
	)
)
