package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "photos_ingested_total",
		Help:      "Photos that reached a terminal ingestion status",
	}, []string{"status", "reason"})

	DuplicateUploads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "duplicate_uploads_total",
		Help:      "Uploads collapsed onto an existing photo by content hash",
	})

	FacesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "faces_stored_total",
		Help:      "Face descriptors persisted",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventface",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	MatchQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "match_queries_total",
		Help:      "Selfie match queries by outcome",
	}, []string{"outcome"})

	DescriptorsScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventface",
		Name:      "descriptors_scanned",
		Help:      "Descriptors compared per match query",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	MatchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventface",
		Name:      "match_results",
		Help:      "Photos returned per match query",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	IntegrityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "integrity_errors_total",
		Help:      "Writes rejected at the store boundary",
	}, []string{"kind"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventface",
		Name:      "queue_depth",
		Help:      "Number of pending ingest tasks in queue",
	})

	StalePhotosSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventface",
		Name:      "stale_photos_swept_total",
		Help:      "Pending photos failed by the stale sweeper",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventface",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventface",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
