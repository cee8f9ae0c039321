package multi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the parallel scheduler.
var (
	schedulerChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curly_scheduler_chunks_total",
		Help: "Total number of chunks processed by the scheduler",
	})

	schedulerInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curly_scheduler_inflight",
		Help: "Operations currently registered with a poller",
	})

	schedulerCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_scheduler_completions_total",
		Help: "Completed operations by result (success, failure)",
	}, []string{"result"})

	schedulerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_scheduler_dropped_total",
		Help: "Operations dropped before or during a chunk by reason",
	}, []string{"reason"})

	schedulerAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curly_scheduler_aborts_total",
		Help: "Chunks aborted because the poller broke",
	})

	schedulerThrottleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "curly_scheduler_throttle_seconds",
		Help:    "Time spent waiting for the throttle between chunks",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)
