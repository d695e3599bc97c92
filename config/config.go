// Package config holds the terrain configuration.
package config

import (
	_ "embed"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/aukilabs/terrain/models"
)

const (
	// ErrTypeInvalidConfig is the error type returned when a configuration
	// does not hold the expected values.
	ErrTypeInvalidConfig = "invalid-config"

	// RootScale is the number of chunks along one side of a root region.
	RootScale = 8
)

//go:embed terrain.schema.json
var schemaSource string

// TerrainConfig describes the terrain and how it is streamed.
type TerrainConfig struct {
	ChunkSize          float32    `yaml:"chunk_size"`
	RenderDistance     int32      `yaml:"render_distance"`
	MaxHeight          float32    `yaml:"max_height"`
	WaterLevel         float32    `yaml:"water_level"`
	MountainThreshold  float32    `yaml:"mountain_threshold"`
	WarpStrength       float32    `yaml:"warp_strength"`
	SkirtDepth         float32    `yaml:"skirt_depth"`
	LODDistances       [3]float32 `yaml:"lod_distances"`
	LODSubdivisions    [4]uint32  `yaml:"lod_subdivisions"`
	MaxConcurrentTasks int        `yaml:"max_concurrent_tasks"`
	LODHysteresis      float32    `yaml:"lod_hysteresis"`
	MaxQuadtreeDepth   uint8      `yaml:"max_quadtree_depth"`

	Heightmap  HeightmapConfig  `yaml:"heightmap"`
	Flythrough FlythroughConfig `yaml:"flythrough"`
}

// HeightmapConfig selects where heights come from.
type HeightmapConfig struct {
	// Either "noise" or "image".
	Kind        string     `yaml:"kind"`
	Seed        int32      `yaml:"seed"`
	ImagePath   string     `yaml:"image_path"`
	WorldSize   [2]float32 `yaml:"world_size"`
	Origin      [2]float32 `yaml:"origin"`
	HeightScale float32    `yaml:"height_scale"`
}

// FlythroughConfig describes the scripted camera used when no viewer
// drives the camera.
type FlythroughConfig struct {
	Start    [3]float32 `yaml:"start"`
	Velocity [3]float32 `yaml:"velocity"`
}

// Default returns the default terrain configuration.
func Default() TerrainConfig {
	return TerrainConfig{
		ChunkSize:          100,
		RenderDistance:     50,
		MaxHeight:          180,
		WaterLevel:         15,
		MountainThreshold:  0.6,
		WarpStrength:       60,
		SkirtDepth:         50,
		LODDistances:       [3]float32{300, 1000, 2500},
		LODSubdivisions:    [4]uint32{64, 32, 16, 8},
		MaxConcurrentTasks: 8,
		LODHysteresis:      0.15,
		MaxQuadtreeDepth:   8,
		Heightmap: HeightmapConfig{
			Kind:        "noise",
			Seed:        42,
			HeightScale: 1,
		},
		Flythrough: FlythroughConfig{
			Start: [3]float32{0, 120, 0},
		},
	}
}

// RootSize returns the side length of a root region.
func (c TerrainConfig) RootSize() float32 {
	return c.ChunkSize * RootScale
}

// Subdivisions returns the grid resolution of a LOD tier. Tiers past the
// coarsest one use the coarsest resolution.
func (c TerrainConfig) Subdivisions(lodLevel uint8) uint32 {
	if int(lodLevel) >= len(c.LODSubdivisions) {
		return c.LODSubdivisions[len(c.LODSubdivisions)-1]
	}
	return c.LODSubdivisions[lodLevel]
}

// Validate checks that the configuration can drive the terrain.
func (c TerrainConfig) Validate() error {
	switch {
	case !(c.ChunkSize > 0):
		return errors.New("chunk size must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("chunk_size", c.ChunkSize)

	case c.RenderDistance < 0:
		return errors.New("render distance must not be negative").
			WithType(ErrTypeInvalidConfig).
			WithTag("render_distance", c.RenderDistance)

	case c.MaxConcurrentTasks < 1:
		return errors.New("at least one concurrent task is required").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_concurrent_tasks", c.MaxConcurrentTasks)

	case c.MaxQuadtreeDepth > models.MaxRegionDepth:
		return errors.New("quadtree is too deep").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_quadtree_depth", c.MaxQuadtreeDepth).
			WithTag("limit", models.MaxRegionDepth)

	case c.LODHysteresis < 0 || c.LODHysteresis >= 1:
		return errors.New("lod hysteresis must be in [0, 1)").
			WithType(ErrTypeInvalidConfig).
			WithTag("lod_hysteresis", c.LODHysteresis)

	case c.SkirtDepth < 0:
		return errors.New("skirt depth must not be negative").
			WithType(ErrTypeInvalidConfig).
			WithTag("skirt_depth", c.SkirtDepth)
	}

	prev := float32(0)
	for i, d := range c.LODDistances {
		if !(d > prev) {
			return errors.New("lod distances must be positive and increasing").
				WithType(ErrTypeInvalidConfig).
				WithTag("index", i).
				WithTag("distance", d)
		}
		prev = d
	}

	for i, s := range c.LODSubdivisions {
		if s == 0 {
			return errors.New("lod subdivisions must be positive").
				WithType(ErrTypeInvalidConfig).
				WithTag("index", i)
		}
	}

	switch c.Heightmap.Kind {
	case "noise":
	case "image":
		if c.Heightmap.ImagePath == "" {
			return errors.New("image heightmap requires a path").
				WithType(ErrTypeInvalidConfig)
		}
		if !(c.Heightmap.WorldSize[0] > 0) || !(c.Heightmap.WorldSize[1] > 0) {
			return errors.New("image heightmap requires a positive world size").
				WithType(ErrTypeInvalidConfig)
		}

	default:
		return errors.New("unknown heightmap kind").
			WithType(ErrTypeInvalidConfig).
			WithTag("kind", c.Heightmap.Kind)
	}

	return nil
}

// Load reads a YAML configuration file. Omitted values keep their default.
func Load(path string) (TerrainConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TerrainConfig{}, errors.New("reading terrain config failed").
			WithTag("path", path).
			Wrap(err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML configuration.
func Parse(b []byte) (TerrainConfig, error) {
	if err := validateSchema(b); err != nil {
		return TerrainConfig{}, err
	}

	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return TerrainConfig{}, errors.New("decoding terrain config failed").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}

	if err := c.Validate(); err != nil {
		return TerrainConfig{}, err
	}
	return c, nil
}

var schema = jsonschema.MustCompileString("terrain.schema.json", schemaSource)

func validateSchema(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return errors.New("decoding terrain config failed").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}
	if doc == nil {
		return nil
	}

	// The schema validator works on JSON values; YAML maps are turned into
	// them with a JSON round trip.
	j, err := json.Marshal(doc)
	if err != nil {
		return errors.New("converting terrain config failed").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}

	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return errors.New("converting terrain config failed").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}

	if err := schema.Validate(v); err != nil {
		return errors.New("terrain config does not match its schema").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}
	return nil
}
