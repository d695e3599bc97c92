package render

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/aukilabs/terrain/models"
)

func testMesh() models.MeshData {
	return models.MeshData{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}},
		Indices:   []uint32{0, 2, 1},
	}
}

func TestWorld(t *testing.T) {
	t.Run("not ready before init", func(t *testing.T) {
		w := NewWorld()
		require.False(t, w.Ready())

		_, err := w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 5})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeSinkNotReady))
		require.Equal(t, 0, w.Len())
	})

	t.Run("spawn and despawn", func(t *testing.T) {
		w := NewWorld()
		w.Init()
		require.True(t, w.Ready())

		placement := models.PlacementOf(models.Bounds{Center: mgl32.Vec2{800, -800}, HalfSize: 400})
		h, err := w.Spawn(testMesh(), placement, models.ChunkMeta{RegionID: 7, Subdivisions: 8})
		require.NoError(t, err)
		require.Equal(t, 1, w.Len())

		c, ok := w.Chunk(h)
		require.True(t, ok)
		require.Equal(t, mgl32.Vec3{800, 0, -800}, c.Placement.Translation)
		require.Equal(t, uint64(7), c.Meta.RegionID)

		w.Despawn(h)
		require.Equal(t, 0, w.Len())
		_, ok = w.Chunk(h)
		require.False(t, ok)

		// Unknown handles are ignored.
		w.Despawn(h)
		w.Despawn(Handle(42))
	})

	t.Run("chunks are sorted by handle", func(t *testing.T) {
		w := NewWorld()
		w.Init()

		for i := 0; i < 4; i++ {
			_, err := w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: uint64(i)})
			require.NoError(t, err)
		}

		chunks := w.Chunks()
		require.Len(t, chunks, 4)
		for i := 1; i < len(chunks); i++ {
			require.Less(t, chunks[i-1].Handle, chunks[i].Handle)
		}
	})

	t.Run("listeners see changes", func(t *testing.T) {
		w := NewWorld()
		w.Init()

		var events []Event
		cancel := w.Listen(func(e Event) {
			events = append(events, e)
		})

		h, err := w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 9})
		require.NoError(t, err)
		w.Despawn(h)

		require.Len(t, events, 2)
		require.Equal(t, EventSpawn, events[0].Type)
		require.Len(t, events[0].Chunk.Mesh.Positions, 3)
		require.Equal(t, EventDespawn, events[1].Type)
		require.Equal(t, h, events[1].Chunk.Handle)
		require.Empty(t, events[1].Chunk.Mesh.Positions)

		cancel()
		_, err = w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 10})
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("subscribe returns a snapshot", func(t *testing.T) {
		w := NewWorld()
		w.Init()

		first, err := w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 1})
		require.NoError(t, err)

		var events []Event
		snapshot, cancel := w.Subscribe(func(e Event) {
			events = append(events, e)
		})
		defer cancel()

		require.Len(t, snapshot, 1)
		require.Equal(t, first, snapshot[0].Handle)
		require.Empty(t, events)

		_, err = w.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 2})
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, uint64(2), events[0].Chunk.Meta.RegionID)
	})
}

func TestSinkDecorators(t *testing.T) {
	var b bytes.Buffer
	logs.SetInlineEncoder()
	logs.SetLevel(logs.ParseLevel("debug"))
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})
	defer logs.SetLevel(logs.InfoLevel)

	w := NewWorld()
	sink := SinkWithLogs(SinkWithMetrics(w))

	_, err := sink.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 3})
	require.Error(t, err)
	require.False(t, sink.Ready())

	w.Init()
	require.True(t, sink.Ready())

	h, err := sink.Spawn(testMesh(), models.Placement{}, models.ChunkMeta{RegionID: 3})
	require.NoError(t, err)
	sink.Despawn(h)

	require.Equal(t, 0, w.Len())
	require.Contains(t, b.String(), "chunk spawned")
	require.Contains(t, b.String(), "chunk despawned")
}
