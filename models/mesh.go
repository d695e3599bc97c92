package models

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// A MeshRequest asks for the geometry of one selected region.
type MeshRequest struct {
	RegionID     uint64
	Bounds       Bounds
	Coords       [2]int32
	Depth        uint8
	LODLevel     uint8
	Subdivisions uint32
	Priority     float32
}

// Placement positions a mesh in the world. Meshes are built around the
// origin of their region.
type Placement struct {
	Translation mgl32.Vec3
}

// PlacementOf returns the placement of a region's mesh.
func PlacementOf(b Bounds) Placement {
	return Placement{
		Translation: mgl32.Vec3{b.Center[0], 0, b.Center[1]},
	}
}

// ChunkMeta is the metadata attached to a rendered chunk.
type ChunkMeta struct {
	RegionID     uint64
	Coords       [2]int32
	Subdivisions uint32
	Depth        uint8
}

// MeshData holds triangle geometry. Positions are local to the placement.
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

// TriangleCount returns the number of triangles.
func (m MeshData) TriangleCount() int {
	return len(m.Indices) / 3
}

// A MeshResult is a finished generation task.
type MeshResult struct {
	RegionID     uint64
	Bounds       Bounds
	Coords       [2]int32
	Depth        uint8
	Subdivisions uint32
	Mesh         MeshData
	Elapsed      time.Duration
}

// Placement returns where the result's mesh goes.
func (r MeshResult) Placement() Placement {
	return PlacementOf(r.Bounds)
}

// Meta returns the chunk metadata of the result.
func (r MeshResult) Meta() ChunkMeta {
	return ChunkMeta{
		RegionID:     r.RegionID,
		Coords:       r.Coords,
		Subdivisions: r.Subdivisions,
		Depth:        r.Depth,
	}
}
