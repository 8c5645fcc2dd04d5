package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_submissions_total",
			Help: "Submissions by wire format and outcome kind",
		},
		[]string{"format", "outcome"},
	)

	KeyNodeSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_keynode_syncs_total",
			Help: "Key node sync requests by outcome kind",
		},
		[]string{"outcome"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_push_dispatch_total",
			Help: "Push dispatches by device type and outcome kind",
		},
		[]string{"device_type", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgrelay_push_dispatch_duration_seconds",
			Help:    "Push provider call latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"device_type"},
	)

	// Storage metrics
	VisibilityWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msgrelay_visibility_wait_seconds",
			Help:    "Time spent waiting for a stored message to become visible",
			Buckets: []float64{0, .25, .75, 1.75, 3.75, 7.75, 15.75, 31.75, 32},
		},
	)

	VisibilityTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "msgrelay_visibility_timeouts_total",
			Help: "Messages still invisible when the wait ceiling was reached",
		},
	)

	CredentialLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_credential_cache_lookups_total",
			Help: "Credential cache lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	CanonicalIDEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_canonical_id_events_total",
			Help: "Canonical registration id events by publish result",
		},
		[]string{"result"},
	)
)
