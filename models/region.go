package models

import "github.com/go-gl/mathgl/mgl32"

const (
	// RootIDBase is the value root region ids are counted from. Root ids
	// live in (RootIDBase, 4*RootIDBase] so that no root id can ever be
	// produced by the child id arithmetic of another root.
	RootIDBase uint64 = 1 << 32

	// MaxRegionDepth is the deepest subdivision level whose ids still fit
	// in 64 bits.
	MaxRegionDepth = 14
)

// Child quadrant indexes, in id order.
const (
	NorthWest = iota
	NorthEast
	SouthWest
	SouthEast
)

// Bounds is an axis-aligned square on the ground plane (x, z).
type Bounds struct {
	Center   mgl32.Vec2
	HalfSize float32
}

// Size returns the side length of the square.
func (b Bounds) Size() float32 {
	return b.HalfSize * 2
}

// Contains reports whether the point lies in the square, edges included.
func (b Bounds) Contains(p mgl32.Vec2) bool {
	return p[0] >= b.Center[0]-b.HalfSize &&
		p[0] <= b.Center[0]+b.HalfSize &&
		p[1] >= b.Center[1]-b.HalfSize &&
		p[1] <= b.Center[1]+b.HalfSize
}

// ClosestPoint returns the point of the square closest to p.
func (b Bounds) ClosestPoint(p mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{
		mgl32.Clamp(p[0], b.Center[0]-b.HalfSize, b.Center[0]+b.HalfSize),
		mgl32.Clamp(p[1], b.Center[1]-b.HalfSize, b.Center[1]+b.HalfSize),
	}
}

// Quadrant returns the bounds of the given child quadrant.
func (b Bounds) Quadrant(q int) Bounds {
	quarter := b.HalfSize / 2
	offset := quadrantOffsets[q]

	return Bounds{
		Center: mgl32.Vec2{
			b.Center[0] + offset[0]*quarter,
			b.Center[1] + offset[1]*quarter,
		},
		HalfSize: quarter,
	}
}

var quadrantOffsets = [4]mgl32.Vec2{
	NorthWest: {-1, -1},
	NorthEast: {1, -1},
	SouthWest: {-1, 1},
	SouthEast: {1, 1},
}

var quadrantCoords = [4][2]int32{
	NorthWest: {0, 0},
	NorthEast: {1, 0},
	SouthWest: {0, 1},
	SouthEast: {1, 1},
}

// A Region is a node of the terrain quadtree.
type Region struct {
	ID       uint64
	Bounds   Bounds
	Depth    uint8
	Coords   [2]int32
	LODLevel uint8
	Children *[4]Region
	Selected bool
}

// IsLeaf reports whether the region has no children.
func (r *Region) IsLeaf() bool {
	return r.Children == nil
}

// ChildRegion returns the unselected, childless region for quadrant q.
func (r *Region) ChildRegion(q int) Region {
	return Region{
		ID:     ChildID(r.ID, q),
		Bounds: r.Bounds.Quadrant(q),
		Depth:  r.Depth + 1,
		Coords: [2]int32{
			r.Coords[0]*2 + quadrantCoords[q][0],
			r.Coords[1]*2 + quadrantCoords[q][1],
		},
		LODLevel: r.Depth + 1,
	}
}

// ChildID returns the id of the child in quadrant q.
func ChildID(parentID uint64, q int) uint64 {
	return parentID*4 + uint64(q) + 1
}

// ChildIDs returns the ids of the four children, in quadrant order.
func ChildIDs(parentID uint64) [4]uint64 {
	return [4]uint64{
		ChildID(parentID, NorthWest),
		ChildID(parentID, NorthEast),
		ChildID(parentID, SouthWest),
		ChildID(parentID, SouthEast),
	}
}

// ParentID returns the id of the region's parent. Ids 0 to 4 have no parent.
// For a root id the result is a value no region ever carries.
func ParentID(id uint64) (uint64, bool) {
	if id <= 4 {
		return 0, false
	}
	return (id - 1) / 4, true
}

// A SelectedRegion is what the quadtree hands to the streaming scheduler.
type SelectedRegion struct {
	ID       uint64
	Bounds   Bounds
	Depth    uint8
	Coords   [2]int32
	LODLevel uint8
}
