package heightmap

import (
	"math"

	"github.com/aukilabs/terrain/config"
)

// NoiseConfig holds everything the procedural terrain height depends on.
// It is a plain value so a copy can be handed to background workers.
type NoiseConfig struct {
	Continental NoiseLayer `json:"continental"`
	Erosion     NoiseLayer `json:"erosion"`
	Ridges      NoiseLayer `json:"ridges"`
	Warp        NoiseLayer `json:"warp"`
	Moisture    NoiseLayer `json:"moisture"`
	Detail      NoiseLayer `json:"detail"`

	MaxHeight         float32 `json:"max_height"`
	WaterLevel        float32 `json:"water_level"`
	MountainThreshold float32 `json:"mountain_threshold"`
	WarpStrength      float32 `json:"warp_strength"`
}

// DefaultNoiseConfig returns the layered noise setup derived from a seed.
func DefaultNoiseConfig(seed int32) NoiseConfig {
	return NoiseConfig{
		Continental: NoiseLayer{
			Seed:       seed,
			Frequency:  0.0004,
			Octaves:    4,
			Lacunarity: 2,
			Gain:       0.5,
		},
		Erosion: NoiseLayer{
			Seed:       seed + 81,
			Frequency:  0.0015,
			Octaves:    4,
			Lacunarity: 2,
			Gain:       0.4,
		},
		Ridges: NoiseLayer{
			Seed:       seed + 414,
			Frequency:  0.003,
			Octaves:    5,
			Lacunarity: 2,
			Gain:       0.5,
			Fractal:    FractalRidged,
		},
		Warp: NoiseLayer{
			Seed:       seed + 747,
			Frequency:  0.001,
			Octaves:    3,
			Lacunarity: 2,
			Gain:       0.5,
		},
		Moisture: NoiseLayer{
			Seed:       seed + 957,
			Frequency:  0.0005,
			Octaves:    3,
			Lacunarity: 2,
			Gain:       0.5,
		},
		Detail: NoiseLayer{
			Seed:       seed + 969,
			Frequency:  0.05,
			Octaves:    2,
			Lacunarity: 2,
			Gain:       0.5,
		},
		MaxHeight:         180,
		WaterLevel:        15,
		MountainThreshold: 0.6,
		WarpStrength:      60,
	}
}

// NoiseConfigFrom returns the noise setup described by a terrain
// configuration.
func NoiseConfigFrom(c config.TerrainConfig) NoiseConfig {
	n := DefaultNoiseConfig(c.Heightmap.Seed)
	n.MaxHeight = c.MaxHeight
	n.WaterLevel = c.WaterLevel
	n.MountainThreshold = c.MountainThreshold
	n.WarpStrength = c.WarpStrength
	return n
}

// Height returns the terrain height at (x, z).
func (n NoiseConfig) Height(x, z float32) float32 {
	warpX := n.Warp.sample(x, z) * n.WarpStrength
	warpZ := n.Warp.sample(x+1000, z+1000) * n.WarpStrength
	wx := x + warpX
	wz := z + warpZ

	continentalRaw := n.Continental.sample(wx, wz)
	continental := (continentalRaw + 1) * 0.5

	erosionRaw := n.Erosion.sample(wx, wz)
	erosion := (erosionRaw + 1) * 0.5

	mountainMask := max(continental-n.MountainThreshold*0.5, 0) * 2.5
	ridges := n.Ridges.sample(wx, wz)
	ridgesMasked := max(ridges, 0) * pow32(mountainMask, 1.2)

	detail := n.Detail.sample(x, z) * 0.02

	valleyCarve := abs32(min(erosionRaw, 0)) * pow32(1-continental, 2) * 0.15
	plateau := max(continental-0.7, 0) * 3 * (1 - erosion) * 0.1
	coastal := smoothstep(0.1, 0.25, continental) * (1 - smoothstep(0.25, 0.4, continental)) * 0.05

	base := continental*0.30 + erosion*0.45 + ridgesMasked*0.25 + detail
	combined := clamp32(base-valleyCarve+plateau-coastal, 0, 1)

	return heightCurve(combined)*n.MaxHeight - n.WaterLevel
}

// MoistureAt returns the moisture field at (x, z), in [0, 1].
func (n NoiseConfig) MoistureAt(x, z float32) float32 {
	return clamp32((n.Moisture.sample(x, z)+1)*0.5, 0, 1)
}

// heightCurve reshapes [0, 1] into flat lowlands, gentle hills and steep
// peaks. It is continuous and monotonic.
func heightCurve(t float32) float32 {
	switch {
	case t < 0.15:
		return t * 0.5
	case t < 0.25:
		return 0.075 + (t-0.15)*1.5
	case t < 0.40:
		return 0.225 + (t-0.25)*0.8
	case t < 0.60:
		return 0.345 + (t-0.40)*1.2
	case t < 0.75:
		return 0.585 + (t-0.60)*1.4
	default:
		return 0.795 + pow32((t-0.75)/0.25, 0.7)*0.205
	}
}

func smoothstep(edge0, edge1, x float32) float32 {
	t := clamp32((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}

func clamp32(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func pow32(v, e float32) float32 {
	return float32(math.Pow(float64(v), float64(e)))
}
