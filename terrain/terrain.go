// Package terrain runs the streaming pipeline: each step updates the
// quadtree from the camera and moves the selection through the streaming
// scheduler into the render sink.
package terrain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/aukilabs/terrain/camera"
	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
	"github.com/aukilabs/terrain/quadtree"
	"github.com/aukilabs/terrain/render"
	"github.com/aukilabs/terrain/streaming"
)

// Options configures a Terrain.
type Options struct {
	Config config.TerrainConfig
	Source heightmap.Source
	Camera camera.Source
	Sink   render.Sink

	// Defaults to mesh.Build.
	Build mesh.BuildFunc

	// The time between two steps when frames are dispatched.
	FrameDuration time.Duration

	// The interval between two streaming summary logs. No summary is
	// logged when zero.
	SummaryInterval time.Duration

	KeepStaleResults bool
	FreezePriorities bool
}

// Stats is a snapshot taken after a step.
type Stats struct {
	Step      uint64          `json:"step"`
	Camera    mgl32.Vec3      `json:"camera"`
	SinkReady bool            `json:"sink_ready"`
	Quadtree  quadtree.Stats  `json:"quadtree"`
	Streaming streaming.Stats `json:"streaming"`
	Duration  time.Duration   `json:"duration"`
}

// Settled reports whether every selected region is spawned and no mesh or
// transition is outstanding.
func (s Stats) Settled() bool {
	return s.Streaming.Pending == 0 &&
		s.Streaming.InFlight == 0 &&
		s.Streaming.Completed == 0 &&
		s.Streaming.WaitingForChildren == 0 &&
		s.Streaming.WaitingForParent == 0 &&
		s.Streaming.Spawned == s.Streaming.Selected
}

// Terrain owns the quadtree and the streaming scheduler.
type Terrain struct {
	config    config.TerrainConfig
	source    heightmap.Source
	camera    camera.Source
	sink      render.Sink
	quadtree  *quadtree.Quadtree
	scheduler *streaming.Scheduler

	steps        uint64
	skippedSteps uint64
	stats        atomic.Pointer[Stats]

	summaryInterval time.Duration
	frameDuration   time.Duration

	lifecycleMutex sync.Mutex
	closed         bool
	running        sync.WaitGroup
	closeFrameChan chan struct{}

	frameHandlerIDs models.SequentialIDGenerator
	frameHandlers   map[uint64]func(Stats)
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

// New returns a terrain and starts its mesh workers.
func New(opts Options) *Terrain {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = time.Second / 60
	}

	scheduler := streaming.New(streaming.Options{
		Config:           opts.Config,
		Source:           opts.Source,
		Build:            opts.Build,
		KeepStaleResults: opts.KeepStaleResults,
		FreezePriorities: opts.FreezePriorities,
	})

	return &Terrain{
		config:          opts.Config,
		source:          opts.Source,
		camera:          opts.Camera,
		sink:            opts.Sink,
		quadtree:        quadtree.New(),
		scheduler:       scheduler,
		summaryInterval: opts.SummaryInterval,
		frameDuration:   opts.FrameDuration,
		closeFrameChan:  make(chan struct{}),
		frameHandlers:   make(map[uint64]func(Stats)),
	}
}

// Step runs one update. It returns false and does nothing when there is no
// camera. Step must not be called concurrently with itself.
func (t *Terrain) Step() bool {
	start := time.Now()

	pos, ok := t.camera.Position()
	if !ok {
		t.skippedSteps++
		instrumentSkippedStep()
		return false
	}

	t.quadtree.Update(pos, t.config, t.source)
	selected := t.quadtree.CollectSelected()

	t.scheduler.Diff(pos, selected)
	t.scheduler.Admit()
	t.scheduler.Poll()
	t.scheduler.Instantiate(t.sink)
	t.scheduler.Sweep(t.sink)

	t.steps++
	elapsed := time.Since(start)
	instrumentStep(elapsed)

	t.stats.Store(&Stats{
		Step:      t.steps,
		Camera:    pos,
		SinkReady: t.sink.Ready(),
		Quadtree:  t.quadtree.Stats(),
		Streaming: t.scheduler.Stats(),
		Duration:  elapsed,
	})
	return true
}

// Stats returns the snapshot of the last step. It is safe for concurrent
// use.
func (t *Terrain) Stats() Stats {
	if s := t.stats.Load(); s != nil {
		return *s
	}
	return Stats{}
}

// Query returns a height query over the terrain source.
func (t *Terrain) Query() heightmap.Query {
	return heightmap.Query{Source: t.source}
}

// Scheduler returns the streaming scheduler. It must only be used from the
// goroutine that steps the terrain.
func (t *Terrain) Scheduler() *streaming.Scheduler {
	return t.scheduler
}

// Quadtree returns the quadtree. It must only be used from the goroutine
// that steps the terrain.
func (t *Terrain) Quadtree() *quadtree.Quadtree {
	return t.quadtree
}

// HandleFrame registers a function called with the stats after each
// dispatched frame. The returned function unregisters it.
func (t *Terrain) HandleFrame(h func(Stats)) (cancel func()) {
	t.frameMutex.Lock()
	defer t.frameMutex.Unlock()

	id := t.frameHandlerIDs.New()
	t.frameHandlers[id] = h

	return func() {
		t.frameMutex.Lock()
		defer t.frameMutex.Unlock()

		delete(t.frameHandlers, id)
		t.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames steps the terrain at the frame rate until Close is
// called.
func (t *Terrain) StartDispatchFrames() {
	t.lifecycleMutex.Lock()
	if t.closed {
		t.lifecycleMutex.Unlock()
		return
	}
	t.running.Add(1)
	t.lifecycleMutex.Unlock()
	defer t.running.Done()

	frameTicker := time.NewTicker(t.frameDuration)
	defer frameTicker.Stop()

	var summary <-chan time.Time
	if t.summaryInterval > 0 {
		summaryTicker := time.NewTicker(t.summaryInterval)
		defer summaryTicker.Stop()
		summary = summaryTicker.C
	}

	for {
		select {
		case <-t.closeFrameChan:
			return

		case <-summary:
			t.logSummary()

		case <-frameTicker.C:
			if !t.Step() {
				continue
			}

			stats := t.Stats()
			t.frameMutex.RLock()
			for _, h := range t.frameHandlers {
				h(stats)
			}
			t.frameMutex.RUnlock()
		}
	}
}

// Close stops dispatching frames, waits for the running mesh builds and
// stops the workers.
func (t *Terrain) Close() {
	t.closeOnce.Do(func() {
		t.lifecycleMutex.Lock()
		t.closed = true
		t.lifecycleMutex.Unlock()

		close(t.closeFrameChan)
		t.running.Wait()
		t.scheduler.Close()
		t.logSummary()
	})
}

func (t *Terrain) logSummary() {
	s := t.Stats()

	logs.WithTag("step", s.Step).
		WithTag("skipped_steps", t.skippedSteps).
		WithTag("camera", s.Camera).
		WithTag("sink_ready", s.SinkReady).
		WithTag("roots", s.Quadtree.Roots).
		WithTag("selected", s.Streaming.Selected).
		WithTag("pending", s.Streaming.Pending).
		WithTag("in_flight", s.Streaming.InFlight).
		WithTag("spawned", s.Streaming.Spawned).
		WithTag("waiting_for_children", s.Streaming.WaitingForChildren).
		WithTag("waiting_for_parent", s.Streaming.WaitingForParent).
		WithTag("time_interval", t.summaryInterval).
		Info("streaming summary")
}
