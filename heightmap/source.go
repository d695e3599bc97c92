// Package heightmap provides terrain heights from procedural functions,
// layered noise or grayscale images.
package heightmap

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"

	"github.com/aukilabs/terrain/config"
)

// A Sampler returns the terrain height at a ground position.
type Sampler interface {
	Height(x, z float32) float32
}

// SamplerFunc is a function that implements the Sampler interface.
type SamplerFunc func(x, z float32) float32

func (f SamplerFunc) Height(x, z float32) float32 {
	return f(x, z)
}

// Kind identifies the variant of a Source.
type Kind uint8

const (
	KindProcedural Kind = iota
	KindNoise
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindProcedural:
		return "procedural"
	case KindNoise:
		return "noise"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// A Source is a height field. Copies share no mutable state and can be used
// from any goroutine.
type Source struct {
	kind       Kind
	procedural func(x, z float32) float32
	noise      NoiseConfig
	image      *Image
}

// Procedural returns a source backed by a pure function.
func Procedural(fn func(x, z float32) float32) Source {
	return Source{
		kind:       KindProcedural,
		procedural: fn,
	}
}

// Flat returns a source with the same height everywhere.
func Flat(height float32) Source {
	return Procedural(func(x, z float32) float32 {
		return height
	})
}

// Noise returns a source backed by layered noise.
func Noise(c NoiseConfig) Source {
	return Source{
		kind:  KindNoise,
		noise: c,
	}
}

// FromImage returns a source backed by a decoded heightmap image.
func FromImage(img *Image) Source {
	return Source{
		kind:  KindImage,
		image: img,
	}
}

// NewSource returns the source described by a terrain configuration.
func NewSource(c config.TerrainConfig) (Source, error) {
	switch c.Heightmap.Kind {
	case "", "noise":
		return Noise(NoiseConfigFrom(c)), nil

	case "image":
		img, err := LoadImage(c.Heightmap.ImagePath,
			mgl32.Vec2{c.Heightmap.WorldSize[0], c.Heightmap.WorldSize[1]},
			mgl32.Vec2{c.Heightmap.Origin[0], c.Heightmap.Origin[1]},
			c.Heightmap.HeightScale,
		)
		if err != nil {
			return Source{}, err
		}
		return FromImage(img), nil

	default:
		return Source{}, errors.New("unknown heightmap kind").
			WithType(config.ErrTypeInvalidConfig).
			WithTag("kind", c.Heightmap.Kind)
	}
}

// Kind returns the source variant.
func (s Source) Kind() Kind {
	return s.kind
}

// Height returns the terrain height at (x, z).
func (s Source) Height(x, z float32) float32 {
	switch s.kind {
	case KindNoise:
		return s.noise.Height(x, z)

	case KindImage:
		if s.image == nil {
			return 0
		}
		return s.image.Sample(x, z)

	default:
		if s.procedural == nil {
			return 0
		}
		return s.procedural(x, z)
	}
}

// Normal returns the surface normal at (x, z) estimated with central
// differences over the given step.
func (s Source) Normal(x, z, step float32) mgl32.Vec3 {
	left := s.Height(x-step, z)
	right := s.Height(x+step, z)
	down := s.Height(x, z-step)
	up := s.Height(x, z+step)

	dx := (right - left) / (2 * step)
	dz := (up - down) / (2 * step)

	return mgl32.Vec3{-dx, 1, -dz}.Normalize()
}

// Slope returns 0 on flat ground, growing towards 1 on cliffs.
func (s Source) Slope(x, z, step float32) float32 {
	return 1 - s.Normal(x, z, step).Y()
}

// Fingerprint identifies the height field so generated meshes can be cached.
// Procedural sources cannot be fingerprinted and return an empty string.
func (s Source) Fingerprint() string {
	switch s.kind {
	case KindNoise:
		b, err := json.Marshal(s.noise)
		if err != nil {
			return ""
		}
		sum := sha256.Sum256(b)
		return "noise-" + hex.EncodeToString(sum[:])

	case KindImage:
		if s.image == nil {
			return ""
		}
		return "image-" + s.image.fingerprint

	default:
		return ""
	}
}
