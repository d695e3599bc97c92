package terrain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_step_seconds",
		Help:    "The time spent in a terrain step.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	skippedSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_skipped_steps_total",
		Help: "The number of steps skipped because there was no camera.",
	})
)

func instrumentStep(d time.Duration) {
	stepLatency.Observe(d.Seconds())
}

func instrumentSkippedStep() {
	skippedSteps.Inc()
}
