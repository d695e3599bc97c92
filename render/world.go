package render

import (
	"slices"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"

	"github.com/aukilabs/terrain/models"
)

// A Chunk is a mesh placed in the world.
type Chunk struct {
	Handle    Handle
	Mesh      models.MeshData
	Placement models.Placement
	Meta      models.ChunkMeta
}

// EventType describes a change of the world.
type EventType uint8

const (
	EventSpawn EventType = iota + 1
	EventDespawn
)

func (t EventType) String() string {
	switch t {
	case EventSpawn:
		return "spawn"
	case EventDespawn:
		return "despawn"
	default:
		return "unknown"
	}
}

// An Event reports a chunk being spawned or despawned. Despawn events only
// carry the chunk handle and metadata.
type Event struct {
	Type  EventType
	Chunk Chunk
}

// World is an in-memory render world. Listeners are told about every
// change and can read a snapshot at any time.
type World struct {
	mutex     sync.RWMutex
	ready     bool
	handles   models.SequentialIDGenerator
	chunks    map[Handle]Chunk
	listeners map[int]func(Event)
	nextID    int
}

// NewWorld returns a world that is not ready until Init is called.
func NewWorld() *World {
	return &World{
		chunks:    make(map[Handle]Chunk),
		listeners: make(map[int]func(Event)),
	}
}

// Init prepares the shared terrain material. Chunks can be spawned once the
// world is initialized.
func (w *World) Init() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.ready = true
}

// Ready reports whether Init was called.
func (w *World) Ready() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.ready
}

func (w *World) Spawn(mesh models.MeshData, placement models.Placement, meta models.ChunkMeta) (Handle, error) {
	w.mutex.Lock()
	if !w.ready {
		w.mutex.Unlock()
		return 0, errors.New("world is not initialized").
			WithType(ErrTypeSinkNotReady).
			WithTag("region_id", meta.RegionID)
	}

	chunk := Chunk{
		Handle:    Handle(w.handles.New()),
		Mesh:      mesh,
		Placement: placement,
		Meta:      meta,
	}
	w.chunks[chunk.Handle] = chunk
	listeners := w.listenersLocked()
	w.mutex.Unlock()

	notify(listeners, Event{
		Type:  EventSpawn,
		Chunk: chunk,
	})
	return chunk.Handle, nil
}

func (w *World) Despawn(h Handle) {
	w.mutex.Lock()
	chunk, ok := w.chunks[h]
	if !ok {
		w.mutex.Unlock()
		return
	}
	delete(w.chunks, h)
	w.handles.Reuse(uint64(h))
	listeners := w.listenersLocked()
	w.mutex.Unlock()

	notify(listeners, Event{
		Type: EventDespawn,
		Chunk: Chunk{
			Handle:    chunk.Handle,
			Placement: chunk.Placement,
			Meta:      chunk.Meta,
		},
	})
}

// Chunk returns the chunk with the given handle.
func (w *World) Chunk(h Handle) (Chunk, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	c, ok := w.chunks[h]
	return c, ok
}

// Chunks returns the spawned chunks sorted by handle.
func (w *World) Chunks() []Chunk {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	chunks := make([]Chunk, 0, len(w.chunks))
	for _, c := range w.chunks {
		chunks = append(chunks, c)
	}
	sortChunks(chunks)
	return chunks
}

func sortChunks(chunks []Chunk) {
	slices.SortFunc(chunks, func(a, b Chunk) int {
		switch {
		case a.Handle < b.Handle:
			return -1
		case a.Handle > b.Handle:
			return 1
		default:
			return 0
		}
	})
}

// Len returns the number of spawned chunks.
func (w *World) Len() int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return len(w.chunks)
}

// Listen registers a function called after each spawn and despawn, on the
// goroutine that made the change. The returned function unregisters it.
func (w *World) Listen(l func(Event)) (cancel func()) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.listenLocked(l)
}

// Subscribe registers a listener like Listen and returns the chunks spawned
// at registration time. The listener is told about every change that is not
// part of the snapshot.
func (w *World) Subscribe(l func(Event)) (snapshot []Chunk, cancel func()) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	snapshot = make([]Chunk, 0, len(w.chunks))
	for _, c := range w.chunks {
		snapshot = append(snapshot, c)
	}
	sortChunks(snapshot)
	return snapshot, w.listenLocked(l)
}

func (w *World) listenLocked(l func(Event)) func() {
	id := w.nextID
	w.nextID++
	w.listeners[id] = l

	return func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()

		delete(w.listeners, id)
	}
}

func (w *World) listenersLocked() []func(Event) {
	if len(w.listeners) == 0 {
		return nil
	}

	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	listeners := make([]func(Event), len(ids))
	for i, id := range ids {
		listeners[i] = w.listeners[id]
	}
	return listeners
}

func notify(listeners []func(Event), e Event) {
	for _, l := range listeners {
		l(e)
	}
}
