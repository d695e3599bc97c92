// Package camera provides the position the terrain is streamed around.
package camera

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/aukilabs/terrain/heightmap"
)

// Source returns the camera position. It returns false when there is no
// camera.
type Source interface {
	Position() (mgl32.Vec3, bool)
}

// Fixed is a camera that never moves.
type Fixed mgl32.Vec3

func (f Fixed) Position() (mgl32.Vec3, bool) {
	return mgl32.Vec3(f), true
}

// Remote is a camera moved by someone else, like a viewer. It has no
// position until the first Set. It is safe for concurrent use.
type Remote struct {
	mutex    sync.RWMutex
	position mgl32.Vec3
	ok       bool
}

// Set moves the camera.
func (r *Remote) Set(pos mgl32.Vec3) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.position = pos
	r.ok = true
}

// Clear removes the camera.
func (r *Remote) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.ok = false
}

func (r *Remote) Position() (mgl32.Vec3, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.position, r.ok
}

// Flythrough is a camera moving in a straight line at constant velocity
// from a start position. When Ground is set the camera keeps at least
// its start altitude above the terrain.
type Flythrough struct {
	Start    mgl32.Vec3
	Velocity mgl32.Vec3
	Ground   heightmap.Sampler

	// Defaults to time.Now.
	Now func() time.Time

	once      sync.Once
	startedAt time.Time
}

func (f *Flythrough) Position() (mgl32.Vec3, bool) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	f.once.Do(func() {
		f.startedAt = now()
	})

	elapsed := float32(now().Sub(f.startedAt).Seconds())
	pos := f.Start.Add(f.Velocity.Mul(elapsed))

	if f.Ground != nil {
		minY := f.Ground.Height(pos.X(), pos.Z()) + f.Start.Y()
		pos[1] = max(pos.Y(), minY)
	}
	return pos, true
}

// First returns the position of the first source that has a camera.
type First []Source

func (f First) Position() (mgl32.Vec3, bool) {
	for _, s := range f {
		if pos, ok := s.Position(); ok {
			return pos, true
		}
	}
	return mgl32.Vec3{}, false
}
