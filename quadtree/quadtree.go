// Package quadtree selects which terrain regions to draw, and at which level
// of detail, from the camera position.
package quadtree

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/models"
)

// Quadtree is a forest of region trees, one per root grid cell around the
// camera. It is not safe for concurrent use.
type Quadtree struct {
	roots     map[[2]int32]*models.Region
	rootsByID map[uint64]*models.Region
	ids       *models.SequentialIDGenerator
}

// New returns an empty quadtree.
func New() *Quadtree {
	return &Quadtree{
		roots:     make(map[[2]int32]*models.Region),
		rootsByID: make(map[uint64]*models.Region),
		ids:       models.NewSequentialIDGenerator(models.RootIDBase),
	}
}

// RootsNeeded returns how many root cells, in each direction from the
// camera cell, cover the render distance.
func RootsNeeded(c config.TerrainConfig) int32 {
	reach := float64(c.RenderDistance) * float64(c.ChunkSize) / float64(c.RootSize())
	return int32(math.Ceil(reach)) + 1
}

// RootCell returns the coordinates of the root cell under a position.
func RootCell(pos mgl32.Vec3, c config.TerrainConfig) [2]int32 {
	rootSize := float64(c.RootSize())
	return [2]int32{
		int32(math.Round(float64(pos.X()) / rootSize)),
		int32(math.Round(float64(pos.Z()) / rootSize)),
	}
}

// Update creates the roots around the camera, recomputes their selection
// and drops roots that went out of reach. Roots within a two cell margin
// past the render distance are kept with their last selection. A camera
// position that is not finite, or so far out that its root cells cannot be
// numbered, leaves the tree untouched.
func (q *Quadtree) Update(cameraPos mgl32.Vec3, c config.TerrainConfig, heights heightmap.Sampler) {
	if !finite(cameraPos) || !addressable(cameraPos, c) {
		return
	}

	rootSize := c.RootSize()
	cell := RootCell(cameraPos, c)
	n := RootsNeeded(c)

	for z := -n; z <= n; z++ {
		for x := -n; x <= n; x++ {
			coords := [2]int32{cell[0] + x, cell[1] + z}

			root, ok := q.roots[coords]
			if !ok {
				root = &models.Region{
					ID: q.ids.New(),
					Bounds: models.Bounds{
						Center:   mgl32.Vec2{float32(coords[0]) * rootSize, float32(coords[1]) * rootSize},
						HalfSize: rootSize / 2,
					},
					Coords: coords,
				}
				q.roots[coords] = root
				q.rootsByID[root.ID] = root
			}

			selectRegion(root, cameraPos, c, heights)
		}
	}

	for coords, root := range q.roots {
		if chebyshev(coords, cell) > n+2 {
			delete(q.roots, coords)
			delete(q.rootsByID, root.ID)
		}
	}
}

// addressable reports whether every root cell kept around pos fits in int32
// coordinates.
func addressable(pos mgl32.Vec3, c config.TerrainConfig) bool {
	rootSize := float64(c.RootSize())
	limit := float64(math.MaxInt32 - RootsNeeded(c) - 2)

	return math.Abs(math.Round(float64(pos.X())/rootSize)) <= limit &&
		math.Abs(math.Round(float64(pos.Z())/rootSize)) <= limit
}

func finite(v mgl32.Vec3) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

func chebyshev(a, b [2]int32) int32 {
	dx := a[0] - b[0]
	if dx < 0 {
		dx = -dx
	}
	dz := a[1] - b[1]
	if dz < 0 {
		dz = -dz
	}
	return max(dx, dz)
}

// selectRegion decides whether r is drawn or split further. Children of a
// drawn region are kept for when it splits again.
func selectRegion(r *models.Region, cameraPos mgl32.Vec3, c config.TerrainConfig, heights heightmap.Sampler) {
	r.Selected = false

	d := DistanceToCamera(r.Bounds, cameraPos, heights)

	if r.Depth < c.MaxQuadtreeDepth && d < SubdivideThreshold(r.Depth, c) {
		if r.Children == nil {
			r.Children = &[4]models.Region{
				r.ChildRegion(models.NorthWest),
				r.ChildRegion(models.NorthEast),
				r.ChildRegion(models.SouthWest),
				r.ChildRegion(models.SouthEast),
			}
		}

		for i := range r.Children {
			selectRegion(&r.Children[i], cameraPos, c, heights)
		}
		return
	}

	r.Selected = true
	r.LODLevel = LODForDistance(d, c)
}

// DistanceToCamera returns the distance between the camera and the closest
// point of the bounds, lifted to the terrain height at the bounds center.
func DistanceToCamera(b models.Bounds, cameraPos mgl32.Vec3, heights heightmap.Sampler) float32 {
	h := heights.Height(b.Center[0], b.Center[1])
	closest := b.ClosestPoint(mgl32.Vec2{cameraPos.X(), cameraPos.Z()})
	return mgl32.Vec3{closest[0], h, closest[1]}.Sub(cameraPos).Len()
}

// SubdivideThreshold returns the camera distance under which a region at
// the given depth is split.
func SubdivideThreshold(depth uint8, c config.TerrainConfig) float32 {
	switch depth {
	case 0:
		return c.LODDistances[2] * 2
	case 1:
		return c.LODDistances[2]
	case 2:
		return c.LODDistances[1]
	case 3:
		return c.LODDistances[0]
	default:
		return c.LODDistances[0] * 0.5
	}
}

// LODForDistance returns the detail tier of a drawn region, 0 being the
// finest.
func LODForDistance(d float32, c config.TerrainConfig) uint8 {
	switch {
	case d < c.LODDistances[0]:
		return 0
	case d < c.LODDistances[1]:
		return 1
	case d < c.LODDistances[2]:
		return 2
	default:
		return 3
	}
}

// LODWithHysteresis returns the grid resolution for a distance, biased to
// keep the current resolution: a tier boundary is pushed outward when the
// current resolution is at least as fine as the tier and pulled inward
// otherwise.
func LODWithHysteresis(distance float32, currentSubdivisions uint32, c config.TerrainConfig) uint32 {
	current := slices.Index(c.LODSubdivisions[:], currentSubdivisions)
	if current < 0 {
		current = 0
	}

	for i, threshold := range c.LODDistances {
		buffer := threshold * c.LODHysteresis

		effective := threshold - buffer
		if current <= i {
			effective = threshold + buffer
		}

		if distance < effective {
			return c.LODSubdivisions[i]
		}
	}
	return c.LODSubdivisions[len(c.LODSubdivisions)-1]
}

// CollectSelected returns the drawn regions of every root. Roots are
// visited in grid order and children in quadrant order.
func (q *Quadtree) CollectSelected() []models.SelectedRegion {
	var selected []models.SelectedRegion
	for _, root := range q.Roots() {
		selected = collect(root, selected)
	}
	return selected
}

func collect(r *models.Region, selected []models.SelectedRegion) []models.SelectedRegion {
	if r.Selected {
		return append(selected, models.SelectedRegion{
			ID:       r.ID,
			Bounds:   r.Bounds,
			Depth:    r.Depth,
			Coords:   r.Coords,
			LODLevel: r.LODLevel,
		})
	}

	if r.Children != nil {
		for i := range r.Children {
			selected = collect(&r.Children[i], selected)
		}
	}
	return selected
}

// Roots returns the roots sorted by row then column.
func (q *Quadtree) Roots() []*models.Region {
	roots := make([]*models.Region, 0, len(q.roots))
	for _, r := range q.roots {
		roots = append(roots, r)
	}

	slices.SortFunc(roots, func(a, b *models.Region) int {
		if a.Coords[1] != b.Coords[1] {
			return int(a.Coords[1]) - int(b.Coords[1])
		}
		return int(a.Coords[0]) - int(b.Coords[0])
	})
	return roots
}

// FindNode returns the region with the given id, if it is in the tree.
func (q *Quadtree) FindNode(id uint64) (*models.Region, bool) {
	var path []uint64
	for id > 4*models.RootIDBase {
		path = append(path, id)
		id = (id - 1) / 4
	}

	r, ok := q.rootsByID[id]
	if !ok {
		return nil, false
	}

	for i := len(path) - 1; i >= 0; i-- {
		if r.Children == nil {
			return nil, false
		}
		r = &r.Children[(path[i]-1)%4]
	}
	return r, true
}

// Stats describes the size of the tree.
type Stats struct {
	Roots    int `json:"roots"`
	Regions  int `json:"regions"`
	Selected int `json:"selected"`
}

// Stats counts the regions of the tree.
func (q *Quadtree) Stats() Stats {
	s := Stats{
		Roots:    len(q.roots),
		Selected: len(q.CollectSelected()),
	}

	var walk func(r *models.Region)
	walk = func(r *models.Region) {
		s.Regions++
		if r.Children != nil {
			for i := range r.Children {
				walk(&r.Children[i])
			}
		}
	}

	for _, r := range q.roots {
		walk(r)
	}
	return s
}
