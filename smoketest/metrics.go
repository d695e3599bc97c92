package smoketest

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smoketest_runs_total",
		Help: "The number of smoke test runs.",
	}, []string{
		"succeeded",
	})

	runLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smoketest_run_seconds",
		Help:    "The time taken by a smoke test run.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func instrumentRun(res Result) {
	runs.WithLabelValues(strconv.FormatBool(res.Succeeded)).Inc()
	runLatency.Observe(res.Duration.Seconds())
}
