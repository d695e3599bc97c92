package heightmap

import "github.com/go-gl/mathgl/mgl32"

// Query answers gameplay questions about the terrain surface.
type Query struct {
	Source Source
}

// Height returns the terrain height at (x, z).
func (q Query) Height(x, z float32) float32 {
	return q.Source.Height(x, z)
}

// Normal returns the surface normal at (x, z).
func (q Query) Normal(x, z float32) mgl32.Vec3 {
	return q.Source.Normal(x, z, 1)
}

// RaycastVertical casts a ray straight down from maxHeight and returns the
// ground hit, if the ground is not above the ray origin.
func (q Query) RaycastVertical(x, z, maxHeight float32) (mgl32.Vec3, bool) {
	h := q.Source.Height(x, z)
	if h > maxHeight {
		return mgl32.Vec3{}, false
	}
	return mgl32.Vec3{x, h, z}, true
}
