package heightmap

import (
	"math"
	"sync"

	"github.com/ojrac/opensimplex-go"
)

// Fractal selects how octaves of simplex noise are combined.
type Fractal uint8

const (
	FractalFBm Fractal = iota
	FractalRidged
)

// A NoiseLayer is one seeded fractal noise field. Results are roughly in
// [-1, 1].
type NoiseLayer struct {
	Seed       int32   `json:"seed"`
	Frequency  float32 `json:"frequency"`
	Octaves    int     `json:"octaves"`
	Lacunarity float32 `json:"lacunarity"`
	Gain       float32 `json:"gain"`
	Fractal    Fractal `json:"fractal"`
}

func (l NoiseLayer) sample(x, z float32) float32 {
	fx := float64(x) * float64(l.Frequency)
	fz := float64(z) * float64(l.Frequency)

	octaves := l.Octaves
	if octaves < 1 {
		octaves = 1
	}
	lacunarity := float64(l.Lacunarity)
	gain := float64(l.Gain)

	amp := 1.0
	bound := 0.0
	for i := 0; i < octaves; i++ {
		bound += amp
		amp *= gain
	}
	if bound == 0 {
		return 0
	}

	sum := 0.0
	amp = 1 / bound
	seed := int64(l.Seed)

	for i := 0; i < octaves; i++ {
		n := math.Max(-1, math.Min(1, simplex(seed).Eval2(fx, fz)))

		switch l.Fractal {
		case FractalRidged:
			sum += (1-math.Abs(n))*2*amp - amp
		default:
			sum += n * amp
		}

		seed++
		fx *= lacunarity
		fz *= lacunarity
		amp *= gain
	}
	return float32(sum)
}

// Generators are immutable once built and shared by every copy of a layer.
var generators sync.Map

func simplex(seed int64) opensimplex.Noise {
	if n, ok := generators.Load(seed); ok {
		return n.(opensimplex.Noise)
	}

	n, _ := generators.LoadOrStore(seed, opensimplex.New(seed))
	return n.(opensimplex.Noise)
}
