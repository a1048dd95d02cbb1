package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkdet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkdet_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	httpPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parkdet_http_panics_total",
			Help: "Total number of handler panics recovered",
		},
	)

	// Detection metrics
	predictRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkdet_predict_requests_total",
			Help: "Total number of detection requests",
		},
		[]string{"mode", "status"}, // mode: url, path, file
	)

	predictDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkdet_predict_duration_seconds",
			Help:    "End-to-end detection request duration including image acquisition",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"mode"},
	)

	inferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parkdet_inference_duration_seconds",
			Help:    "Model inference duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	detectionsPerImage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkdet_detections_per_image",
			Help:    "Number of objects detected per image",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 300},
		},
		[]string{"mode"},
	)

	detectionsByClass = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkdet_detections_total",
			Help: "Total number of detected objects by class",
		},
		[]string{"class_name"},
	)

	// Occupancy metrics
	slotsOccupied = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkdet_slots_occupied",
			Help: "Occupied parking slots in the most recent occupancy evaluation",
		},
		[]string{"layout"},
	)

	slotsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkdet_slots_total",
			Help: "Parking slots defined by the layout",
		},
		[]string{"layout"},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parkdet_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkdet_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkdet_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
