package render

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aukilabs/terrain/models"
)

const (
	errTypeLabel = "error_type"
)

var (
	spawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_chunk_spawns_total",
		Help: "The number of spawned chunks.",
	})

	spawnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_chunk_spawn_errors_total",
		Help: "The number of chunks that failed to spawn.",
	}, []string{
		errTypeLabel,
	})

	despawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_chunk_despawns_total",
		Help: "The number of despawned chunks.",
	})

	chunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_chunks",
		Help: "The number of chunks in the render world.",
	})

	triangles = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_chunk_triangles",
		Help:    "The number of triangles of spawned chunks.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
)

// SinkWithMetrics returns a sink that instruments spawns and despawns.
func SinkWithMetrics(s Sink) Sink {
	return sinkWithMetrics{Sink: s}
}

type sinkWithMetrics struct {
	Sink
}

func (s sinkWithMetrics) Spawn(mesh models.MeshData, placement models.Placement, meta models.ChunkMeta) (Handle, error) {
	h, err := s.Sink.Spawn(mesh, placement, meta)

	if err != nil {
		spawnErrors.With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).Inc()
		return h, err
	}

	spawns.Inc()
	chunks.Inc()
	triangles.Observe(float64(mesh.TriangleCount()))
	return h, nil
}

func (s sinkWithMetrics) Despawn(h Handle) {
	s.Sink.Despawn(h)

	despawns.Inc()
	chunks.Dec()
}
