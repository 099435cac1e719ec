package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bundleCompileFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsm_bundle_compile_failed",
			Help: "Number of times a bundle has failed to compile",
		},
		[]string{"bundle", "error_type"},
	)

	bundleCompileCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsm_bundle_compile_count",
			Help: "Total number of bundle compilations attempted",
		},
	)

	bundleCompileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bsm_bundle_compile_duration_seconds",
			Help:    "Bundle compilation duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120},
		},
		[]string{"bundle"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bsm_queue_depth",
			Help: "Number of compilations admitted but not yet started",
		},
	)

	QueueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bsm_queue_in_flight",
			Help: "Number of compiler processes currently running",
		},
	)
)

func CompileSucceeded(bundle string, start time.Time) {
	bundleCompileCount.Inc()
	bundleCompileDuration.WithLabelValues(bundle).Observe(time.Since(start).Seconds())
}

func CompileFailed(bundle, errorType string) {
	bundleCompileCount.Inc()
	bundleCompileFailed.WithLabelValues(bundle, errorType).Inc()
}
