package streaming

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/models"
	"github.com/aukilabs/terrain/quadtree"
	"github.com/aukilabs/terrain/render"
)

// gatedBuild builds tiny meshes. Builds of gated regions block until the
// region is released.
type gatedBuild struct {
	mutex   sync.Mutex
	gates   map[uint64]chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	builds  atomic.Int32
}

func newGatedBuild(ids ...uint64) *gatedBuild {
	g := &gatedBuild{gates: make(map[uint64]chan struct{})}
	for _, id := range ids {
		g.gates[id] = make(chan struct{})
	}
	return g
}

func (g *gatedBuild) release(ids ...uint64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for _, id := range ids {
		if gate, ok := g.gates[id]; ok {
			close(gate)
			delete(g.gates, id)
		}
	}
}

func (g *gatedBuild) releaseAll() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for id, gate := range g.gates {
		close(gate)
		delete(g.gates, id)
	}
}

func (g *gatedBuild) build(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData {
	running := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		peak := g.peak.Load()
		if running <= peak || g.peak.CompareAndSwap(peak, running) {
			break
		}
	}

	g.mutex.Lock()
	gate := g.gates[req.RegionID]
	g.mutex.Unlock()

	if gate != nil {
		<-gate
	}

	g.builds.Add(1)
	return models.MeshData{
		Positions: []mgl32.Vec3{{0, src.Height(req.Bounds.Center[0], req.Bounds.Center[1]), 0}},
	}
}

func newTestScheduler(t *testing.T, maxTasks int, g *gatedBuild, opts ...func(*Options)) *Scheduler {
	c := config.Default()
	c.MaxConcurrentTasks = maxTasks

	o := Options{
		Config: c,
		Source: heightmap.Flat(0),
		Build:  g.build,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := New(o)
	t.Cleanup(func() {
		g.releaseAll()
		s.Close()
	})
	return s
}

func newReadyWorld() *render.World {
	w := render.NewWorld()
	w.Init()
	return w
}

// region returns a selected region whose center is id*100 on the x axis so
// the priority grows with the id.
func region(id uint64) models.SelectedRegion {
	return models.SelectedRegion{
		ID:     id,
		Bounds: models.Bounds{Center: mgl32.Vec2{float32(id) * 100, 0}, HalfSize: 50},
	}
}

func regions(ids ...uint64) []models.SelectedRegion {
	selected := make([]models.SelectedRegion, len(ids))
	for i, id := range ids {
		selected[i] = region(id)
	}
	return selected
}

var origin = mgl32.Vec3{0, 10, 0}

func step(s *Scheduler, sink render.Sink, cam mgl32.Vec3, selected []models.SelectedRegion) {
	s.Diff(cam, selected)
	s.Admit()
	s.Poll()
	s.Instantiate(sink)
	s.Sweep(sink)
}

// settle runs steps until nothing is queued, built or waiting to spawn.
func settle(t *testing.T, s *Scheduler, sink render.Sink, cam mgl32.Vec3, selected []models.SelectedRegion) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		step(s, sink, cam, selected)
		requireConsistent(t, s)

		if s.PendingLen() == 0 && s.InFlightLen() == 0 && s.CompletedLen() == 0 {
			return
		}
		require.True(t, time.Now().Before(deadline), "streaming did not settle")
		time.Sleep(time.Millisecond)
	}
}

// waitInFlight polls until the given regions are no longer in flight.
func waitInFlight(t *testing.T, s *Scheduler, ids ...uint64) {
	require.Eventually(t, func() bool {
		s.Poll()
		for _, id := range ids {
			if s.IsInFlight(id) {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
}

func requireConsistent(t *testing.T, s *Scheduler) {
	spawned := s.Spawned()

	for parent, children := range s.WaitingForChildren() {
		require.Contains(t, spawned, parent)
		require.NotEmpty(t, children)
	}
	for child, parent := range s.WaitingForParent() {
		require.Contains(t, spawned, child)
		require.NotContains(t, spawned, parent)
	}
	require.LessOrEqual(t, s.InFlightLen(), s.config.MaxConcurrentTasks)
}

func requireWorld(t *testing.T, w *render.World, ids ...uint64) {
	var rendered []uint64
	for _, c := range w.Chunks() {
		rendered = append(rendered, c.Meta.RegionID)
	}
	require.ElementsMatch(t, ids, rendered)
}

func TestSchedulerDiff(t *testing.T) {
	t.Run("queues each region once", func(t *testing.T) {
		g := newGatedBuild()
		s := newTestScheduler(t, 2, g)

		s.Diff(origin, regions(1, 2, 3))
		s.Diff(origin, regions(1, 2, 3))
		require.Equal(t, 3, s.PendingLen())
	})

	t.Run("does not queue regions in flight", func(t *testing.T) {
		g := newGatedBuild(1, 2)
		s := newTestScheduler(t, 2, g)

		s.Diff(origin, regions(1, 2, 3))
		s.Admit()
		require.True(t, s.IsInFlight(1))
		require.True(t, s.IsInFlight(2))
		require.True(t, s.IsPending(3))

		s.Diff(origin, regions(1, 2, 3))
		require.Equal(t, 1, s.PendingLen())
	})

	t.Run("does not queue spawned regions", func(t *testing.T) {
		g := newGatedBuild()
		s := newTestScheduler(t, 2, g)
		w := newReadyWorld()

		settle(t, s, w, origin, regions(1))
		require.True(t, s.IsSpawned(1))

		s.Diff(origin, regions(1))
		require.Equal(t, 0, s.PendingLen())
	})

	t.Run("requests use the tier resolution", func(t *testing.T) {
		g := newGatedBuild()
		s := newTestScheduler(t, 2, g)

		r := region(1)
		r.LODLevel = 2
		s.Diff(mgl32.Vec3{100, 500, 30}, []models.SelectedRegion{r})

		pending := s.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, uint32(16), pending[0].Subdivisions)
		require.Equal(t, float32(30), pending[0].Priority)
	})
}

func TestSchedulerAdmit(t *testing.T) {
	t.Run("concurrency is bounded", func(t *testing.T) {
		ids := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		g := newGatedBuild(ids...)
		s := newTestScheduler(t, 3, g)
		w := newReadyWorld()

		step(s, w, origin, regions(ids...))
		require.Equal(t, 3, s.InFlightLen())
		require.Equal(t, 7, s.PendingLen())

		g.releaseAll()
		settle(t, s, w, origin, regions(ids...))

		require.LessOrEqual(t, g.peak.Load(), int32(3))
		require.Equal(t, int32(10), g.builds.Load())
		requireWorld(t, w, ids...)
	})

	t.Run("nearest regions go first", func(t *testing.T) {
		g := newGatedBuild(1, 2, 3, 4)
		s := newTestScheduler(t, 2, g)

		s.Diff(mgl32.Vec3{400, 0, 0}, regions(1, 2, 3, 4))
		s.Admit()

		require.True(t, s.IsInFlight(4))
		require.True(t, s.IsInFlight(3))
		require.True(t, s.IsPending(1))
		require.True(t, s.IsPending(2))
	})

	t.Run("priorities follow the camera", func(t *testing.T) {
		g := newGatedBuild(1, 2, 5)
		s := newTestScheduler(t, 1, g)

		s.Diff(mgl32.Vec3{100, 0, 0}, regions(1, 2, 5))
		s.Admit()
		require.True(t, s.IsInFlight(1))

		s.Diff(mgl32.Vec3{500, 0, 0}, regions(1, 2, 5))
		g.release(1)
		waitInFlight(t, s, 1)

		s.Admit()
		require.True(t, s.IsInFlight(5))
	})

	t.Run("frozen priorities keep their queue order", func(t *testing.T) {
		g := newGatedBuild(1, 2, 5)
		s := newTestScheduler(t, 1, g, func(o *Options) {
			o.FreezePriorities = true
		})

		s.Diff(mgl32.Vec3{100, 0, 0}, regions(1, 2, 5))
		s.Admit()
		require.True(t, s.IsInFlight(1))

		s.Diff(mgl32.Vec3{500, 0, 0}, regions(1, 2, 5))
		g.release(1)
		waitInFlight(t, s, 1)

		s.Admit()
		require.True(t, s.IsInFlight(2))
	})

	t.Run("deselected requests are dropped", func(t *testing.T) {
		g := newGatedBuild(1)
		s := newTestScheduler(t, 1, g)

		s.Diff(origin, regions(1, 2))
		s.Admit()
		require.True(t, s.IsPending(2))

		s.Diff(origin, regions(1))
		g.release(1)
		waitInFlight(t, s, 1)

		s.Admit()
		require.Equal(t, 0, s.PendingLen())
		require.Equal(t, 0, s.InFlightLen())
	})
}

func TestSchedulerSubdivision(t *testing.T) {
	t.Run("one child", func(t *testing.T) {
		g := newGatedBuild()
		s := newTestScheduler(t, 4, g)
		w := newReadyWorld()

		settle(t, s, w, origin, regions(1))
		requireWorld(t, w, 1)

		g.mutex.Lock()
		g.gates[5] = make(chan struct{})
		g.mutex.Unlock()

		step(s, w, origin, regions(5))
		require.True(t, s.IsSpawned(1))
		require.False(t, s.IsSpawned(5))
		require.Equal(t, map[uint64][]uint64{1: {5}}, s.WaitingForChildren())
		requireWorld(t, w, 1)

		g.release(5)
		waitInFlight(t, s, 5)
		s.Instantiate(w)
		s.Sweep(w)

		require.False(t, s.IsSpawned(1))
		require.True(t, s.IsSpawned(5))
		require.NotContains(t, s.WaitingForChildren(), uint64(1))
		requireConsistent(t, s)
		requireWorld(t, w, 5)
	})

	t.Run("all children", func(t *testing.T) {
		g := newGatedBuild()
		s := newTestScheduler(t, 4, g)
		w := newReadyWorld()

		settle(t, s, w, origin, regions(1))
		requireWorld(t, w, 1)

		g.mutex.Lock()
		for _, id := range []uint64{5, 6, 7, 8} {
			g.gates[id] = make(chan struct{})
		}
		g.mutex.Unlock()

		children := regions(5, 6, 7, 8)
		step(s, w, origin, children)
		require.True(t, s.IsSpawned(1))
		require.Equal(t, map[uint64][]uint64{1: {5, 6, 7, 8}}, s.WaitingForChildren())

		// Children finish out of order; the parent stays until the last one.
		for _, id := range []uint64{8, 6, 5} {
			g.release(id)
			waitInFlight(t, s, id)
			s.Instantiate(w)
			s.Sweep(w)
			require.True(t, s.IsSpawned(1))
			requireConsistent(t, s)
		}
		require.Equal(t, map[uint64][]uint64{1: {7}}, s.WaitingForChildren())
		requireWorld(t, w, 1, 5, 6, 8)

		g.release(7)
		waitInFlight(t, s, 7)
		s.Instantiate(w)
		s.Sweep(w)

		require.False(t, s.IsSpawned(1))
		require.Empty(t, s.WaitingForChildren())
		requireWorld(t, w, 5, 6, 7, 8)
	})
}

func TestSchedulerMerge(t *testing.T) {
	g := newGatedBuild()
	s := newTestScheduler(t, 4, g)
	w := newReadyWorld()

	settle(t, s, w, origin, regions(5, 6, 7, 8))
	requireWorld(t, w, 5, 6, 7, 8)

	g.mutex.Lock()
	g.gates[1] = make(chan struct{})
	g.mutex.Unlock()

	step(s, w, origin, regions(1))
	require.Equal(t, map[uint64]uint64{5: 1, 6: 1, 7: 1, 8: 1}, s.WaitingForParent())
	requireWorld(t, w, 5, 6, 7, 8)
	requireConsistent(t, s)

	g.release(1)
	settle(t, s, w, origin, regions(1))

	require.Empty(t, s.WaitingForParent())
	require.Equal(t, []uint64{1}, keys(s.Spawned()))
	requireWorld(t, w, 1)
}

func TestSchedulerTeleport(t *testing.T) {
	g := newGatedBuild()
	s := newTestScheduler(t, 4, g)
	w := newReadyWorld()

	settle(t, s, w, origin, regions(1))

	// Start a subdivision, then leave before it completes.
	g.mutex.Lock()
	for _, id := range []uint64{5, 6, 7, 8} {
		g.gates[id] = make(chan struct{})
	}
	g.mutex.Unlock()
	step(s, w, origin, regions(5, 6, 7, 8))
	require.NotEmpty(t, s.WaitingForChildren())

	far := mgl32.Vec3{1e6, 10, 0}
	step(s, w, far, regions(1000))

	require.Empty(t, s.WaitingForChildren())
	require.Empty(t, s.WaitingForParent())
	require.False(t, s.IsSpawned(1))
	requireWorld(t, w)

	g.releaseAll()
	settle(t, s, w, far, regions(1000))
	requireWorld(t, w, 1000)
}

func TestSchedulerReselectedParent(t *testing.T) {
	g := newGatedBuild()
	s := newTestScheduler(t, 4, g)
	w := newReadyWorld()

	settle(t, s, w, origin, regions(1))

	g.mutex.Lock()
	for _, id := range []uint64{5, 6, 7, 8} {
		g.gates[id] = make(chan struct{})
	}
	g.mutex.Unlock()
	step(s, w, origin, regions(5, 6, 7, 8))
	require.NotEmpty(t, s.WaitingForChildren())

	step(s, w, origin, regions(1))
	require.Empty(t, s.WaitingForChildren())

	g.releaseAll()
	settle(t, s, w, origin, regions(1))

	require.True(t, s.IsSpawned(1))
	requireWorld(t, w, 1)
}

func TestSchedulerStaleResults(t *testing.T) {
	t.Run("discarded by default", func(t *testing.T) {
		g := newGatedBuild(1)
		s := newTestScheduler(t, 2, g)
		w := newReadyWorld()

		step(s, w, origin, regions(1))
		step(s, w, origin, regions(2))

		g.release(1)
		waitInFlight(t, s, 1)
		s.Instantiate(w)

		require.False(t, s.IsSpawned(1))
		settle(t, s, w, origin, regions(2))
		requireWorld(t, w, 2)
	})

	t.Run("kept when asked", func(t *testing.T) {
		g := newGatedBuild(1)
		s := newTestScheduler(t, 2, g, func(o *Options) {
			o.KeepStaleResults = true
		})
		w := newReadyWorld()

		step(s, w, origin, regions(1))
		step(s, w, origin, regions(2))

		g.release(1)
		waitInFlight(t, s, 1)
		s.Instantiate(w)
		require.True(t, s.IsSpawned(1))

		settle(t, s, w, origin, regions(2))
		require.False(t, s.IsSpawned(1))
		requireWorld(t, w, 2)
	})
}

func TestSchedulerSinkNotReady(t *testing.T) {
	g := newGatedBuild()
	s := newTestScheduler(t, 2, g)
	w := render.NewWorld()

	s.Diff(origin, regions(1, 2))
	s.Admit()
	waitInFlight(t, s, 1, 2)

	s.Instantiate(w)
	s.Sweep(w)
	require.Equal(t, 2, s.CompletedLen())
	require.Empty(t, s.Spawned())

	// Completed regions are not queued again while they wait.
	s.Diff(origin, regions(1, 2))
	require.Equal(t, 0, s.PendingLen())

	w.Init()
	s.Instantiate(w)
	require.Equal(t, 0, s.CompletedLen())
	requireWorld(t, w, 1, 2)
}

type failingSink struct {
	*render.World
	fail atomic.Bool
}

func (s *failingSink) Spawn(mesh models.MeshData, placement models.Placement, meta models.ChunkMeta) (render.Handle, error) {
	if s.fail.Load() {
		return 0, errSpawn
	}
	return s.World.Spawn(mesh, placement, meta)
}

var errSpawn = errors.New("spawn failed")

func TestSchedulerSpawnFailure(t *testing.T) {
	g := newGatedBuild()
	s := newTestScheduler(t, 2, g)
	sink := &failingSink{World: newReadyWorld()}
	sink.fail.Store(true)

	s.Diff(origin, regions(1))
	s.Admit()
	waitInFlight(t, s, 1)
	s.Instantiate(sink)
	require.False(t, s.IsSpawned(1))

	sink.fail.Store(false)
	settle(t, s, sink, origin, regions(1))
	require.True(t, s.IsSpawned(1))
	requireWorld(t, sink.World, 1)
}

func TestSchedulerBuildPanic(t *testing.T) {
	var calls atomic.Int32
	g := newGatedBuild()
	s := newTestScheduler(t, 2, g, func(o *Options) {
		o.Build = func(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return models.MeshData{}
		}
	})
	w := newReadyWorld()

	s.Diff(origin, regions(1))
	s.Admit()
	waitInFlight(t, s, 1)
	require.Equal(t, 0, s.CompletedLen())
	require.False(t, s.IsSpawned(1))

	settle(t, s, w, origin, regions(1))
	require.True(t, s.IsSpawned(1))
	require.Equal(t, int32(2), calls.Load())
}

func TestSchedulerWithQuadtree(t *testing.T) {
	c := config.Default()
	c.RenderDistance = 8
	c.MaxQuadtreeDepth = 4
	c.MaxConcurrentTasks = 4
	c.LODSubdivisions = [4]uint32{4, 4, 2, 2}

	src := heightmap.Noise(heightmap.DefaultNoiseConfig(42))
	s := New(Options{Config: c, Source: src})
	defer s.Close()

	w := newReadyWorld()
	q := quadtree.New()

	path := []mgl32.Vec3{
		{0, 60, 0},
		{150, 60, 40},
		{420, 60, 90},
		{900, 80, -200},
		{900, 400, -200},
		{20000, 80, 0},
		{20100, 60, 50},
	}

	for _, cam := range path {
		for i := 0; i < 20; i++ {
			q.Update(cam, c, src)
			step(s, w, cam, q.CollectSelected())
			requireConsistent(t, s)
		}

		q.Update(cam, c, src)
		selected := q.CollectSelected()
		settle(t, s, w, cam, selected)

		// Once settled every selected region is on screen and nothing else.
		var ids []uint64
		for _, r := range selected {
			ids = append(ids, r.ID)
		}
		require.ElementsMatch(t, ids, keys(s.Spawned()))
		require.Empty(t, s.WaitingForChildren())
		require.Empty(t, s.WaitingForParent())
		requireWorld(t, w, ids...)
	}
}

func keys(m map[uint64]render.Handle) []uint64 {
	return sortedKeys(m)
}
