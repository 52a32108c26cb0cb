package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bus channel metrics
	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_bus_frames_sent_total",
			Help: "Total number of frames written to the bus",
		},
	)

	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_bus_frames_received_total",
			Help: "Total number of frames read from the bus",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_bus_frames_dropped_total",
			Help: "Total number of frames dropped on full subscriber queues",
		},
	)

	BusErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_bus_errors_total",
			Help: "Total number of transport I/O errors",
		},
	)

	BusLoad = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagcore_bus_load_frames_per_second",
			Help: "Estimated bus load over the last second",
		},
	)

	// Protocol engine metrics
	RequestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagcore_uds_requests_total",
			Help: "Total number of diagnostic requests sent",
		},
		[]string{"service"},
	)

	RequestTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_uds_timeouts_total",
			Help: "Total number of requests that exhausted all retries",
		},
	)

	NegativeResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagcore_uds_negative_responses_total",
			Help: "Total number of negative responses received",
		},
		[]string{"nrc"},
	)

	// Router metrics
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagcore_router_requests_total",
			Help: "Total number of routed diagnostic requests",
		},
		[]string{"status", "mode"},
	)

	// Override metrics
	OverridesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagcore_overrides_active",
			Help: "Number of currently active admin overrides",
		},
	)

	OverrideActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagcore_override_activations_total",
			Help: "Total number of override activations by scope",
		},
		[]string{"scope"},
	)

	// Forensic metrics
	ForensicEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_forensic_events_total",
			Help: "Total number of forensic events recorded",
		},
	)

	ForensicWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_forensic_write_errors_total",
			Help: "Total number of forensic persistence failures",
		},
	)

	// Rate limiting metrics. Deliberately unlabeled: session ids are
	// unbounded and would blow up series cardinality.
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagcore_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
	)
)
