package render

import (
	"github.com/aukilabs/go-tooling/pkg/logs"

	"github.com/aukilabs/terrain/models"
)

// SinkWithLogs returns a sink that logs spawns and despawns.
func SinkWithLogs(s Sink) Sink {
	return sinkWithLogs{Sink: s}
}

type sinkWithLogs struct {
	Sink
}

func (s sinkWithLogs) Spawn(mesh models.MeshData, placement models.Placement, meta models.ChunkMeta) (Handle, error) {
	h, err := s.Sink.Spawn(mesh, placement, meta)
	if err != nil {
		logs.WithTag("region_id", meta.RegionID).
			WithTag("subdivisions", meta.Subdivisions).
			Warn(err)
		return h, err
	}

	logs.WithTag("region_id", meta.RegionID).
		WithTag("handle", h).
		WithTag("depth", meta.Depth).
		WithTag("subdivisions", meta.Subdivisions).
		WithTag("triangles", mesh.TriangleCount()).
		Debug("chunk spawned")
	return h, nil
}

func (s sinkWithLogs) Despawn(h Handle) {
	s.Sink.Despawn(h)

	logs.WithTag("handle", h).
		Debug("chunk despawned")
}
