package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by outcome",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "verifications_total",
		Help:      "Verification attempts by outcome",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FacesPerImage = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "faces_per_image",
		Help:      "Number of faces found in each submitted image",
		Buckets:   []float64{0, 1, 2, 3, 5, 10},
	})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "match_distance",
		Help:      "Euclidean distance between stored and fresh embeddings",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 15),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	AuditEventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "audit_events_stored_total",
		Help:      "Auth events persisted by the worker",
	}, []string{"outcome"})

	AuditStreamDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "audit_stream_depth",
		Help:      "Auth events not yet persisted by the audit worker",
	})
)
