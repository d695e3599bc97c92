package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
)

func testOptions() Options {
	c := config.Default()
	c.MaxQuadtreeDepth = 2
	c.LODSubdivisions = [4]uint32{4, 4, 2, 2}
	c.MaxConcurrentTasks = 4

	return Options{
		Config: c,
		Source: heightmap.Flat(3),
	}
}

func TestRun(t *testing.T) {
	t.Run("settles along the path", func(t *testing.T) {
		res, err := Run(context.Background(), "run-1", testOptions(), Request{
			Path: []mgl32.Vec3{
				{0, 50, 0},
				{250, 50, 0},
				{50000, 50, -50000},
			},
			RenderDistance: 1,
		})
		require.NoError(t, err)
		require.True(t, res.Succeeded)
		require.Empty(t, res.Error)
		require.Equal(t, "run-1", res.RunID)
		require.Equal(t, 3, res.Waypoints)
		require.NotZero(t, res.Steps)
		require.NotZero(t, res.Chunks)
		require.NotZero(t, res.Triangles)
	})

	t.Run("defaults to the flythrough start", func(t *testing.T) {
		res, err := Run(context.Background(), "run-2", testOptions(), Request{RenderDistance: 1})
		require.NoError(t, err)
		require.Equal(t, 1, res.Waypoints)
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := Run(context.Background(), "run-3", testOptions(), Request{
			Timeout: time.Nanosecond,
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeNotSettled))
		require.False(t, res.Succeeded)
		require.NotEmpty(t, res.Error)
		require.Zero(t, res.Waypoints)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	t.Run("runs in the background", func(t *testing.T) {
		results := make(chan Result, 1)

		opts := testOptions()
		opts.SendResult = func(_ context.Context, res Result) error {
			results <- res
			return nil
		}

		body, err := json.Marshal(Request{
			Path:           []mgl32.Vec3{{0, 20, 0}},
			RenderDistance: 1,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		HandleSmokeTest(context.Background(), opts)(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		_, err = uuid.Parse(resp.RunID)
		require.NoError(t, err)

		select {
		case res := <-results:
			require.Equal(t, resp.RunID, res.RunID)
			require.True(t, res.Succeeded, res.Error)

		case <-time.After(30 * time.Second):
			require.Fail(t, "no smoke test result")
		}
	})

	t.Run("bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSmokeTest(context.Background(), testOptions())(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader([]byte("{"))))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
