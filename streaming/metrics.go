package streaming

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonLabel = "reason"
	stateLabel  = "state"

	discardSpawned     = "spawned"
	discardDeselected  = "deselected"
	discardStale       = "stale"
	discardFailed      = "failed"
	discardSpawnFailed = "spawn_failed"
)

var (
	enqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_mesh_requests_total",
		Help: "The number of queued mesh requests.",
	})

	dispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_mesh_tasks_dispatched_total",
		Help: "The number of mesh tasks handed to workers.",
	})

	discarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_mesh_discarded_total",
		Help: "The number of mesh requests or results dropped.",
	}, []string{
		reasonLabel,
	})

	buildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_mesh_build_seconds",
		Help:    "The time spent building a mesh.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	taskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_mesh_task_seconds",
		Help:    "The time between dispatching a mesh task and collecting its result.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	streamingState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "terrain_streaming_regions",
		Help: "The number of regions in each streaming state.",
	}, []string{
		stateLabel,
	})
)

func instrumentEnqueue() {
	enqueued.Inc()
}

func instrumentDispatch() {
	dispatched.Inc()
}

func instrumentDiscard(reason string) {
	discarded.With(prometheus.Labels{
		reasonLabel: reason,
	}).Inc()
}

func instrumentBuild(d time.Duration) {
	buildLatency.Observe(d.Seconds())
}

func instrumentTaskLatency(d time.Duration) {
	taskLatency.Observe(d.Seconds())
}

func instrumentStats(s Stats) {
	for state, n := range map[string]int{
		"selected":             s.Selected,
		"pending":              s.Pending,
		"in_flight":            s.InFlight,
		"completed":            s.Completed,
		"spawned":              s.Spawned,
		"rendered":             s.Rendered,
		"waiting_for_children": s.WaitingForChildren,
		"waiting_for_parent":   s.WaitingForParent,
	} {
		streamingState.With(prometheus.Labels{
			stateLabel: state,
		}).Set(float64(n))
	}
}
