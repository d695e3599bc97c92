package models

import "sync"

// A sequential id generator.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	base        uint64
	currentID   uint64
	reusableIDs map[uint64]struct{}
}

// NewSequentialIDGenerator returns a generator whose first id is base+1.
func NewSequentialIDGenerator(base uint64) *SequentialIDGenerator {
	return &SequentialIDGenerator{
		base:      base,
		currentID: base,
	}
}

// New returns a sequental id.
func (g *SequentialIDGenerator) New() uint64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for id := range g.reusableIDs {
		delete(g.reusableIDs, id)
		return id
	}

	if g.currentID < g.base {
		g.currentID = g.base
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Reusable ids are returned in priority
// when using New.
func (g *SequentialIDGenerator) Reuse(id uint64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.reusableIDs == nil {
		g.reusableIDs = make(map[uint64]struct{})
	}

	g.reusableIDs[id] = struct{}{}
}
