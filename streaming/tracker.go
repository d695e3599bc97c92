package streaming

import (
	"maps"
	"slices"
)

// transitions keeps regions that left the selection on screen until what
// replaces them is spawned.
type transitions struct {
	// Spawned parents waiting for the listed children to spawn.
	waitingForChildren map[uint64]map[uint64]struct{}

	// Spawned children waiting for their parent to spawn.
	waitingForParent map[uint64]uint64
}

func newTransitions() *transitions {
	return &transitions{
		waitingForChildren: make(map[uint64]map[uint64]struct{}),
		waitingForParent:   make(map[uint64]uint64),
	}
}

// waitForChildren replaces the set of children a parent waits for.
func (t *transitions) waitForChildren(parent uint64, children []uint64) {
	set := make(map[uint64]struct{}, len(children))
	for _, c := range children {
		set[c] = struct{}{}
	}
	t.waitingForChildren[parent] = set
}

func (t *transitions) waitForParent(child, parent uint64) {
	t.waitingForParent[child] = parent
}

// forget drops the waits of a region that is selected again or gone.
func (t *transitions) forget(id uint64) {
	delete(t.waitingForChildren, id)
	delete(t.waitingForParent, id)
}

// childSpawned records that a child spawned. It returns the parent whose
// wait is over, if any.
func (t *transitions) childSpawned(child, parent uint64) (uint64, bool) {
	waiting, ok := t.waitingForChildren[parent]
	if !ok {
		return 0, false
	}

	delete(waiting, child)
	if len(waiting) != 0 {
		return 0, false
	}

	delete(t.waitingForChildren, parent)
	return parent, true
}

// parentSpawned records that a parent spawned. It returns the children whose
// wait is over.
func (t *transitions) parentSpawned(parent uint64) []uint64 {
	var released []uint64
	for child, p := range t.waitingForParent {
		if p == parent {
			released = append(released, child)
			delete(t.waitingForParent, child)
		}
	}
	return released
}

// prune removes parents that wait for nothing.
func (t *transitions) prune() {
	maps.DeleteFunc(t.waitingForChildren, func(_ uint64, children map[uint64]struct{}) bool {
		return len(children) == 0
	})
}

func (t *transitions) childrenSnapshot() map[uint64][]uint64 {
	snapshot := make(map[uint64][]uint64, len(t.waitingForChildren))
	for parent, children := range t.waitingForChildren {
		ids := make([]uint64, 0, len(children))
		for c := range children {
			ids = append(ids, c)
		}
		slices.Sort(ids)
		snapshot[parent] = ids
	}
	return snapshot
}

func (t *transitions) parentSnapshot() map[uint64]uint64 {
	return maps.Clone(t.waitingForParent)
}
