package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline Prometheus metrics.
var (
	SignalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fuseline",
			Name:      "signal_request_duration_seconds",
			Help:      "Per-signal retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"signal"},
	)

	SignalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "signal_failures_total",
			Help:      "Total retrieval signal failures (degraded responses)",
		},
		[]string{"signal"},
	)

	MalformedHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "malformed_hits_total",
			Help:      "Hits dropped during fusion for missing or invalid fields",
		},
		[]string{"signal"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fuseline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"}, // expand / embed / retrieve / fuse / rerank
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "cache_requests_total",
			Help:      "Cache tier lookups by outcome",
		},
		[]string{"tier", "result"}, // result: "hit" / "miss" / "error"
	)

	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "cache_invalidations_total",
			Help:      "Cache entries invalidated by item update events",
		},
		[]string{"tier"},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "fallbacks_total",
			Help:      "Fail-open fallbacks taken by optional pipeline stages",
		},
		[]string{"stage"}, // "expand" / "rerank"
	)

	DeadlineExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fuseline",
			Name:      "deadline_exceeded_total",
			Help:      "Requests that hit the hard deadline budget",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(SignalRequestDuration)
	prometheus.MustRegister(SignalFailuresTotal)
	prometheus.MustRegister(MalformedHitsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(CacheRequestsTotal)
	prometheus.MustRegister(CacheInvalidationsTotal)
	prometheus.MustRegister(FallbacksTotal)
	prometheus.MustRegister(DeadlineExceededTotal)
	pipelineMetricsRegistered = true
}
