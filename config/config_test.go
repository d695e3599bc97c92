package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	require.NoError(t, c.Validate())
	require.Equal(t, float32(800), c.RootSize())
	require.Equal(t, uint32(64), c.Subdivisions(0))
	require.Equal(t, uint32(8), c.Subdivisions(3))
	require.Equal(t, uint32(8), c.Subdivisions(7))
}

func TestParse(t *testing.T) {
	t.Run("omitted values keep their default", func(t *testing.T) {
		c, err := Parse([]byte("chunk_size: 50\nlod_distances: [100, 200, 400]\n"))
		require.NoError(t, err)
		require.Equal(t, float32(50), c.ChunkSize)
		require.Equal(t, [3]float32{100, 200, 400}, c.LODDistances)
		require.Equal(t, int32(50), c.RenderDistance)
		require.Equal(t, [4]uint32{64, 32, 16, 8}, c.LODSubdivisions)
		require.Equal(t, "noise", c.Heightmap.Kind)
	})

	t.Run("empty document is the default", func(t *testing.T) {
		c, err := Parse(nil)
		require.NoError(t, err)
		require.Equal(t, Default(), c)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := Parse([]byte("chunk_sise: 50\n"))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})

	t.Run("wrong array length is rejected", func(t *testing.T) {
		_, err := Parse([]byte("lod_subdivisions: [64, 32]\n"))
		require.Error(t, err)
	})

	t.Run("decreasing distances are rejected", func(t *testing.T) {
		_, err := Parse([]byte("lod_distances: [300, 200, 400]\n"))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})

	t.Run("image heightmap requires a path", func(t *testing.T) {
		_, err := Parse([]byte("heightmap:\n  kind: image\n  world_size: [1000, 1000]\n"))
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	t.Run("reads a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "terrain.yaml")
		err := os.WriteFile(path, []byte("render_distance: 4\nmax_concurrent_tasks: 2\n"), 0o600)
		require.NoError(t, err)

		c, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, int32(4), c.RenderDistance)
		require.Equal(t, 2, c.MaxConcurrentTasks)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *TerrainConfig)
	}{
		{
			name:   "zero chunk size",
			modify: func(c *TerrainConfig) { c.ChunkSize = 0 },
		},
		{
			name:   "negative render distance",
			modify: func(c *TerrainConfig) { c.RenderDistance = -1 },
		},
		{
			name:   "no tasks",
			modify: func(c *TerrainConfig) { c.MaxConcurrentTasks = 0 },
		},
		{
			name:   "too deep",
			modify: func(c *TerrainConfig) { c.MaxQuadtreeDepth = 15 },
		},
		{
			name:   "hysteresis out of range",
			modify: func(c *TerrainConfig) { c.LODHysteresis = 1 },
		},
		{
			name:   "zero subdivisions",
			modify: func(c *TerrainConfig) { c.LODSubdivisions[2] = 0 },
		},
		{
			name:   "unknown heightmap",
			modify: func(c *TerrainConfig) { c.Heightmap.Kind = "voxel" },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(&c)

			err := c.Validate()
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
		})
	}
}
