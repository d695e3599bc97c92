// Package render defines where finished chunk meshes go.
package render

import "github.com/aukilabs/terrain/models"

const (
	// ErrTypeSinkNotReady is the error type returned when a sink cannot
	// accept meshes yet.
	ErrTypeSinkNotReady = "sink-not-ready"
)

// Handle identifies a spawned chunk.
type Handle uint64

// Sink is the render world the streaming scheduler spawns chunks into.
type Sink interface {
	// Spawn places a mesh in the world.
	Spawn(mesh models.MeshData, placement models.Placement, meta models.ChunkMeta) (Handle, error)

	// Despawn removes a chunk. Unknown handles are ignored.
	Despawn(h Handle)

	// Ready reports whether the sink has what it needs to draw chunks.
	Ready() bool
}
