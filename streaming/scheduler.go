// Package streaming turns the quadtree selection into spawned chunk meshes,
// building meshes on background workers and swapping levels of detail
// without leaving holes on screen.
package streaming

import (
	"maps"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
	"github.com/aukilabs/terrain/render"
)

// Options configures a Scheduler.
type Options struct {
	Config config.TerrainConfig
	Source heightmap.Source

	// The function that builds meshes. Defaults to mesh.Build.
	Build mesh.BuildFunc

	// The number of worker goroutines. Defaults to the maximum number of
	// concurrent tasks.
	Workers int

	// Spawn results even when their region left the selection while the
	// mesh was built.
	KeepStaleResults bool

	// Keep the priority computed when a request was queued instead of
	// recomputing it from the current camera before each admission.
	FreezePriorities bool
}

// Scheduler owns the streaming state. Its methods must be called from a
// single goroutine, once per step in this order: Diff, Admit, Poll,
// Instantiate, Sweep.
type Scheduler struct {
	config           config.TerrainConfig
	source           heightmap.Source
	build            mesh.BuildFunc
	keepStaleResults bool
	freezePriorities bool

	pool         *pool
	pending      *requestQueue
	inFlight     map[uint64]*task
	completed    []models.MeshResult
	completedIDs map[uint64]struct{}
	spawned      map[uint64]render.Handle
	rendered     map[uint64]render.Handle
	selected     map[uint64]struct{}
	transitions  *transitions
	camera       mgl32.Vec3
}

type task struct {
	req          models.MeshRequest
	done         chan taskResult
	dispatchedAt time.Time
}

// New returns a scheduler and starts its workers.
func New(opts Options) *Scheduler {
	if opts.Build == nil {
		opts.Build = mesh.Build
	}

	maxTasks := max(opts.Config.MaxConcurrentTasks, 1)
	opts.Config.MaxConcurrentTasks = maxTasks

	workers := opts.Workers
	if workers <= 0 || workers > maxTasks {
		workers = maxTasks
	}

	return &Scheduler{
		config:           opts.Config,
		source:           opts.Source,
		build:            opts.Build,
		keepStaleResults: opts.KeepStaleResults,
		freezePriorities: opts.FreezePriorities,
		pool:             newPool(workers, maxTasks),
		pending:          newRequestQueue(),
		inFlight:         make(map[uint64]*task),
		completedIDs:     make(map[uint64]struct{}),
		spawned:          make(map[uint64]render.Handle),
		rendered:         make(map[uint64]render.Handle),
		selected:         make(map[uint64]struct{}),
		transitions:      newTransitions(),
	}
}

// Close waits for the admitted tasks to finish and stops the workers.
func (s *Scheduler) Close() {
	s.pool.close()
}

// Priority returns the planar distance between the camera and a region
// center. Lower values are built first.
func Priority(cameraPos mgl32.Vec3, b models.Bounds) float32 {
	return mgl32.Vec2{cameraPos.X(), cameraPos.Z()}.Sub(b.Center).Len()
}

// Diff queues the selected regions that are not spawned yet and decides
// what happens to spawned regions that are no longer selected:
//   - a region whose children are selected stays until they are all
//     spawned;
//   - a region whose parent is selected stays until the parent is spawned;
//   - any other region is removed.
func (s *Scheduler) Diff(cameraPos mgl32.Vec3, selected []models.SelectedRegion) {
	s.camera = cameraPos

	clear(s.selected)
	for _, r := range selected {
		s.selected[r.ID] = struct{}{}
	}

	for _, r := range selected {
		// A selected region stands for itself and waits for nothing.
		s.transitions.forget(r.ID)
		s.enqueue(r)
	}

	for _, id := range sortedKeys(s.spawned) {
		if !s.isSelected(id) {
			s.retire(id)
		}
	}

	s.observe()
}

func (s *Scheduler) enqueue(r models.SelectedRegion) {
	if _, ok := s.spawned[r.ID]; ok {
		return
	}
	if _, ok := s.inFlight[r.ID]; ok {
		return
	}
	if _, ok := s.completedIDs[r.ID]; ok {
		return
	}

	queued := s.pending.push(models.MeshRequest{
		RegionID:     r.ID,
		Bounds:       r.Bounds,
		Coords:       r.Coords,
		Depth:        r.Depth,
		LODLevel:     r.LODLevel,
		Subdivisions: s.config.Subdivisions(r.LODLevel),
		Priority:     Priority(s.camera, r.Bounds),
	})
	if queued {
		instrumentEnqueue()
	}
}

func (s *Scheduler) retire(id uint64) {
	s.transitions.forget(id)

	var missing []uint64
	childrenSelected := false

	for _, child := range models.ChildIDs(id) {
		if !s.isSelected(child) {
			continue
		}
		childrenSelected = true

		if _, ok := s.spawned[child]; !ok {
			missing = append(missing, child)
		}
	}

	if childrenSelected {
		if len(missing) == 0 {
			s.remove(id)
			return
		}

		s.transitions.waitForChildren(id, missing)
		logs.WithTag("region_id", id).
			WithTag("missing_children", missing).
			Debug("region waits for its children")
		return
	}

	if parent, ok := models.ParentID(id); ok && s.isSelected(parent) {
		if _, spawned := s.spawned[parent]; spawned {
			s.remove(id)
			return
		}

		s.transitions.waitForParent(id, parent)
		logs.WithTag("region_id", id).
			WithTag("parent_id", parent).
			Debug("region waits for its parent")
		return
	}

	s.remove(id)
}

// remove takes a region out of the spawned set. Its chunk is despawned by
// the next sweep.
func (s *Scheduler) remove(id uint64) {
	delete(s.spawned, id)
	s.transitions.forget(id)
}

func (s *Scheduler) isSelected(id uint64) bool {
	_, ok := s.selected[id]
	return ok
}

// Admit dispatches pending requests, nearest first, until the maximum
// number of concurrent tasks is reached.
func (s *Scheduler) Admit() {
	if !s.freezePriorities && s.pending.len() > 1 {
		camera := s.camera
		s.pending.rescore(func(req models.MeshRequest) float32 {
			return Priority(camera, req.Bounds)
		})
	}

	for len(s.inFlight) < s.config.MaxConcurrentTasks {
		req, ok := s.pending.pop()
		if !ok {
			break
		}

		if _, spawned := s.spawned[req.RegionID]; spawned {
			instrumentDiscard(discardSpawned)
			continue
		}
		if !s.keepStaleResults && !s.isSelected(req.RegionID) {
			instrumentDiscard(discardDeselected)
			continue
		}

		done := make(chan taskResult, 1)
		s.inFlight[req.RegionID] = &task{
			req:          req,
			done:         done,
			dispatchedAt: time.Now(),
		}

		s.pool.submit(job{
			req:    req,
			source: s.source,
			config: s.config,
			build:  s.build,
			done:   done,
		})
		instrumentDispatch()
	}

	s.observe()
}

// Poll moves finished tasks to the completed list without blocking.
func (s *Scheduler) Poll() {
	for _, id := range sortedKeys(s.inFlight) {
		t := s.inFlight[id]

		select {
		case res := <-t.done:
			delete(s.inFlight, id)
			instrumentTaskLatency(time.Since(t.dispatchedAt))

			if res.err != nil {
				// The region is requested again by the next diff.
				instrumentDiscard(discardFailed)
				continue
			}

			s.completed = append(s.completed, res.result)
			s.completedIDs[id] = struct{}{}

		default:
		}
	}

	s.observe()
}

// Instantiate spawns the completed meshes into the sink and resolves the
// transitions they end. Nothing happens while the sink is not ready; the
// completed meshes are kept for later.
func (s *Scheduler) Instantiate(sink render.Sink) {
	if len(s.completed) == 0 || !sink.Ready() {
		return
	}

	completed := s.completed
	s.completed = nil
	clear(s.completedIDs)

	for _, res := range completed {
		id := res.RegionID

		if !s.keepStaleResults && !s.isSelected(id) {
			instrumentDiscard(discardStale)
			continue
		}
		if _, ok := s.spawned[id]; ok {
			instrumentDiscard(discardSpawned)
			continue
		}

		if old, ok := s.rendered[id]; ok {
			sink.Despawn(old)
			delete(s.rendered, id)
		}

		h, err := sink.Spawn(res.Mesh, res.Placement(), res.Meta())
		if err != nil {
			logs.WithTag("region_id", id).Warn(err)
			instrumentDiscard(discardSpawnFailed)
			continue
		}
		s.spawned[id] = h
		s.rendered[id] = h

		if parent, ok := models.ParentID(id); ok {
			if p, done := s.transitions.childSpawned(id, parent); done {
				s.remove(p)
				logs.WithTag("region_id", p).Debug("region replaced by its children")
			}
		}

		for _, child := range s.transitions.parentSpawned(id) {
			s.remove(child)
			logs.WithTag("region_id", child).
				WithTag("parent_id", id).
				Debug("region replaced by its parent")
		}
	}

	s.transitions.prune()
	s.observe()
}

// Sweep despawns every chunk whose region is no longer spawned. Nothing
// happens while the sink is not ready.
func (s *Scheduler) Sweep(sink render.Sink) {
	if !sink.Ready() {
		return
	}

	for _, id := range sortedKeys(s.rendered) {
		h := s.rendered[id]
		if current, ok := s.spawned[id]; ok && current == h {
			continue
		}

		sink.Despawn(h)
		delete(s.rendered, id)
	}

	s.observe()
}

// Spawned returns a copy of the spawned regions and their chunk handles.
func (s *Scheduler) Spawned() map[uint64]render.Handle {
	return maps.Clone(s.spawned)
}

// IsSpawned reports whether a region is spawned.
func (s *Scheduler) IsSpawned(id uint64) bool {
	_, ok := s.spawned[id]
	return ok
}

// IsInFlight reports whether a mesh is being built for a region.
func (s *Scheduler) IsInFlight(id uint64) bool {
	_, ok := s.inFlight[id]
	return ok
}

// IsPending reports whether a region waits for admission.
func (s *Scheduler) IsPending(id uint64) bool {
	return s.pending.contains(id)
}

// Pending returns the queued requests, in no particular order.
func (s *Scheduler) Pending() []models.MeshRequest {
	return s.pending.requests()
}

// PendingLen returns the number of queued requests.
func (s *Scheduler) PendingLen() int {
	return s.pending.len()
}

// InFlightLen returns the number of dispatched tasks without a result yet.
func (s *Scheduler) InFlightLen() int {
	return len(s.inFlight)
}

// CompletedLen returns the number of results waiting to be instantiated.
func (s *Scheduler) CompletedLen() int {
	return len(s.completed)
}

// WaitingForChildren returns the spawned parents kept on screen and the
// children they wait for.
func (s *Scheduler) WaitingForChildren() map[uint64][]uint64 {
	return s.transitions.childrenSnapshot()
}

// WaitingForParent returns the spawned children kept on screen and the
// parent they wait for.
func (s *Scheduler) WaitingForParent() map[uint64]uint64 {
	return s.transitions.parentSnapshot()
}

// Stats is a snapshot of the streaming state sizes.
type Stats struct {
	Selected           int `json:"selected"`
	Pending            int `json:"pending"`
	InFlight           int `json:"in_flight"`
	Completed          int `json:"completed"`
	Spawned            int `json:"spawned"`
	Rendered           int `json:"rendered"`
	WaitingForChildren int `json:"waiting_for_children"`
	WaitingForParent   int `json:"waiting_for_parent"`
}

// Stats returns the current sizes of the streaming state.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Selected:           len(s.selected),
		Pending:            s.pending.len(),
		InFlight:           len(s.inFlight),
		Completed:          len(s.completed),
		Spawned:            len(s.spawned),
		Rendered:           len(s.rendered),
		WaitingForChildren: len(s.transitions.waitingForChildren),
		WaitingForParent:   len(s.transitions.waitingForParent),
	}
}

func (s *Scheduler) observe() {
	instrumentStats(s.Stats())
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	return slices.Sorted(maps.Keys(m))
}
