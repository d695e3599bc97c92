package meshcache

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "cache", "meshes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRequest() models.MeshRequest {
	return models.MeshRequest{
		RegionID:     models.RootIDBase + 3,
		Bounds:       models.Bounds{Center: mgl32.Vec2{0, 800}, HalfSize: 400},
		Subdivisions: 8,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	req := testRequest()
	src := heightmap.Noise(heightmap.DefaultNoiseConfig(42))
	key := Key(req, src.Fingerprint(), 50)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	m := mesh.Build(req, src, config.Default())
	require.NoError(t, s.Put(ctx, key, req, m))
	require.NoError(t, s.Put(ctx, key, req, m))

	cached, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m.Positions, cached.Positions)
	require.Equal(t, m.Indices, cached.Indices)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestKey(t *testing.T) {
	req := testRequest()
	key := Key(req, "noise-a", 50)

	require.Equal(t, key, Key(req, "noise-a", 50))
	require.NotEqual(t, key, Key(req, "noise-b", 50))
	require.NotEqual(t, key, Key(req, "noise-a", 0))

	other := req
	other.Subdivisions = 16
	require.NotEqual(t, key, Key(other, "noise-a", 50))

	// The region id does not matter, only what the mesh covers.
	other = req
	other.RegionID++
	require.Equal(t, key, Key(other, "noise-a", 50))
}

func TestWrap(t *testing.T) {
	s := openTestStore(t)
	c := config.Default()
	req := testRequest()

	var builds atomic.Int32
	build := s.Wrap(func(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData {
		builds.Add(1)
		return mesh.Build(req, src, c)
	})

	t.Run("fingerprinted sources are cached", func(t *testing.T) {
		src := heightmap.Noise(heightmap.DefaultNoiseConfig(1))

		first := build(req, src, c)
		second := build(req, src, c)

		require.Equal(t, int32(1), builds.Load())
		require.Equal(t, first.Positions, second.Positions)
	})

	t.Run("procedural sources bypass the cache", func(t *testing.T) {
		builds.Store(0)
		src := heightmap.Flat(3)

		build(req, src, c)
		build(req, src, c)

		require.Equal(t, int32(2), builds.Load())
	})
}

func TestCorruptedEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meshes (key, region_id, subdivisions, data, created_at) VALUES (?, 1, 8, ?, 0)",
		"broken", []byte("not a mesh"),
	)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "broken")
	require.False(t, ok)
	require.True(t, errors.IsType(err, ErrTypeCorrupted))
}

func TestOpen(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
