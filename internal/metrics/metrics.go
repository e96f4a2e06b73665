package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixshim_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matrixshim_http_request_duration_seconds",
			Help:    "HTTP request duration, long-polls included",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Room metrics
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixshim_events_appended_total",
			Help: "Total events accepted by the room store",
		},
		[]string{"kind"}, // "timeline" or "state"
	)

	// Sync metrics
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixshim_sync_requests_total",
			Help: "Sync requests by how they stopped waiting",
		},
		[]string{"outcome"},
	)

	ActiveLongPolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matrixshim_active_long_polls",
			Help: "Sync requests currently held open",
		},
	)

	// Upstream metrics
	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixshim_directory_lookups_total",
			Help: "Handle resolutions by result",
		},
		[]string{"result"}, // "ok", "cached" or "error"
	)
)
