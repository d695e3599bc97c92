// Package mesh builds terrain chunk geometry.
package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/models"
)

// A BuildFunc turns a mesh request into geometry. It runs on background
// workers and must only use its arguments.
type BuildFunc func(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData

// Build returns a grid of req.Subdivisions cells per side covering the
// request bounds, centered on the region center. When the configuration
// has a skirt depth, each border gets a skirt hanging below it to hide
// cracks between neighbors of different resolutions.
func Build(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData {
	subdivisions := int(req.Subdivisions)
	if subdivisions < 1 {
		subdivisions = 1
	}

	size := req.Bounds.Size()
	half := req.Bounds.HalfSize
	step := size / float32(subdivisions)
	center := req.Bounds.Center
	n := subdivisions + 1

	// Heights with a one cell border so normals are continuous across
	// chunk edges.
	stride := n + 2
	heights := make([]float32, stride*stride)
	for j := -1; j <= n; j++ {
		for i := -1; i <= n; i++ {
			x := center[0] - half + float32(i)*step
			z := center[1] - half + float32(j)*step
			heights[(j+1)*stride+(i+1)] = src.Height(x, z)
		}
	}
	heightAt := func(i, j int) float32 {
		return heights[(j+1)*stride+(i+1)]
	}

	vertexCount := n * n
	indexCount := subdivisions * subdivisions * 6
	if c.SkirtDepth > 0 {
		vertexCount += 4 * n * 2
		indexCount += 4 * subdivisions * 6
	}

	m := models.MeshData{
		Positions: make([]mgl32.Vec3, 0, vertexCount),
		Normals:   make([]mgl32.Vec3, 0, vertexCount),
		UVs:       make([]mgl32.Vec2, 0, vertexCount),
		Indices:   make([]uint32, 0, indexCount),
	}

	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			m.Positions = append(m.Positions, mgl32.Vec3{
				float32(i)*step - half,
				heightAt(i, j),
				float32(j)*step - half,
			})

			dx := (heightAt(i+1, j) - heightAt(i-1, j)) / (2 * step)
			dz := (heightAt(i, j+1) - heightAt(i, j-1)) / (2 * step)
			m.Normals = append(m.Normals, mgl32.Vec3{-dx, 1, -dz}.Normalize())

			m.UVs = append(m.UVs, mgl32.Vec2{
				float32(i) / float32(subdivisions),
				float32(j) / float32(subdivisions),
			})
		}
	}

	for j := 0; j < subdivisions; j++ {
		for i := 0; i < subdivisions; i++ {
			tl := uint32(j*n + i)
			tr := tl + 1
			bl := uint32((j+1)*n + i)
			br := bl + 1

			m.Indices = append(m.Indices, tl, bl, tr, tr, bl, br)
		}
	}

	if c.SkirtDepth > 0 {
		// Borders walked clockwise, starting with the north one.
		edges := [4]func(k int) int{
			func(k int) int { return k },
			func(k int) int { return k*n + (n - 1) },
			func(k int) int { return (n-1)*n + (n - 1 - k) },
			func(k int) int { return (n - 1 - k) * n },
		}
		for _, edge := range edges {
			addSkirt(&m, n, edge, c.SkirtDepth)
		}
	}

	return m
}

// addSkirt appends a vertical strip below the border vertices returned by
// edge, in order.
func addSkirt(m *models.MeshData, n int, edge func(k int) int, depth float32) {
	first := uint32(len(m.Positions))

	for k := 0; k < n; k++ {
		top := edge(k)
		p := m.Positions[top]

		// Top copy then bottom copy.
		m.Positions = append(m.Positions, p, mgl32.Vec3{p[0], p[1] - depth, p[2]})
		m.Normals = append(m.Normals, m.Normals[top], m.Normals[top])
		m.UVs = append(m.UVs, m.UVs[top], m.UVs[top])
	}

	for k := 0; k < n-1; k++ {
		a := first + uint32(k*2)
		aBottom := a + 1
		b := a + 2
		bBottom := a + 3

		m.Indices = append(m.Indices, a, b, aBottom, b, bBottom, aBottom)
	}
}
