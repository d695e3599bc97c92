// Package smoketest runs the streaming pipeline headlessly to check that a
// deployment converges.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"

	"github.com/aukilabs/terrain/camera"
	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/render"
	"github.com/aukilabs/terrain/terrain"
)

const (
	// ErrTypeNotSettled is the error type returned when the pipeline does
	// not converge before the timeout.
	ErrTypeNotSettled = "not-settled"

	// ErrTypeInconsistent is the error type returned when the render world
	// does not match the selection.
	ErrTypeInconsistent = "inconsistent"

	defaultTimeout        = 30 * time.Second
	defaultRenderDistance = 2
	stepInterval          = time.Millisecond
)

type Options struct {
	// The terrain configuration the runs start from.
	Config config.TerrainConfig

	Source heightmap.Source
	Build  mesh.BuildFunc

	// Called with the result of each run.
	SendResult func(context.Context, Result) error
}

// Request is the body of a smoke test request. Every field is optional.
type Request struct {
	// The camera positions visited in order. Defaults to the flythrough
	// start.
	Path []mgl32.Vec3 `json:"path"`

	// The time given to the whole run.
	Timeout time.Duration `json:"timeout"`

	// Overrides the render distance of the configuration.
	RenderDistance int32 `json:"render_distance"`
}

// Response is returned when a smoke test is started.
type Response struct {
	RunID string `json:"run_id"`
}

// Result describes a finished run.
type Result struct {
	RunID     string        `json:"run_id"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Waypoints int           `json:"waypoints"`
	Steps     uint64        `json:"steps"`
	Chunks    int           `json:"chunks"`
	Triangles int           `json:"triangles"`
	Duration  time.Duration `json:"duration"`
}

// HandleSmokeTest starts a smoke test run in the background and responds
// with its run id.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reading body failed"})
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
				return
			}
		}

		runID := uuid.NewString()

		go func() {
			res, err := Run(ctx, runID, opts, req)
			if err != nil {
				logs.WithTag("run_id", runID).Warn(err)
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("run_id", runID).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		writeJSON(w, http.StatusOK, Response{RunID: runID})
	}
}

// Run streams the terrain around each waypoint of the request until the
// render world matches the selection.
func Run(ctx context.Context, runID string, opts Options, req Request) (Result, error) {
	start := time.Now()
	res := Result{RunID: runID}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conf := opts.Config
	conf.RenderDistance = defaultRenderDistance
	if req.RenderDistance > 0 {
		conf.RenderDistance = req.RenderDistance
	}

	path := req.Path
	if len(path) == 0 {
		path = []mgl32.Vec3{mgl32.Vec3(conf.Flythrough.Start)}
	}

	cam := &camera.Remote{}
	world := render.NewWorld()
	world.Init()

	tr := terrain.New(terrain.Options{
		Config: conf,
		Source: opts.Source,
		Camera: cam,
		Sink:   world,
		Build:  opts.Build,
	})
	defer tr.Close()

	err := func() error {
		for i, pos := range path {
			cam.Set(pos)

			if err := stepUntilSettled(ctx, tr); err != nil {
				return errors.New("terrain did not settle").
					WithType(ErrTypeNotSettled).
					WithTag("waypoint", i).
					WithTag("camera", pos).
					Wrap(err)
			}

			if err := checkWorld(tr, world); err != nil {
				return errors.New("render world does not match the selection").
					WithType(ErrTypeInconsistent).
					WithTag("waypoint", i).
					WithTag("camera", pos).
					Wrap(err)
			}
			res.Waypoints++
		}
		return nil
	}()

	res.Steps = tr.Stats().Step
	res.Chunks = world.Len()
	for _, c := range world.Chunks() {
		res.Triangles += c.Mesh.TriangleCount()
	}
	res.Duration = time.Since(start)
	res.Succeeded = err == nil
	if err != nil {
		res.Error = err.Error()
	}

	instrumentRun(res)
	return res, err
}

func stepUntilSettled(ctx context.Context, tr *terrain.Terrain) error {
	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()

	for {
		tr.Step()
		if s := tr.Stats(); s.Step > 0 && s.Settled() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func checkWorld(tr *terrain.Terrain, world *render.World) error {
	selected := tr.Quadtree().CollectSelected()
	if len(selected) != world.Len() {
		return errors.New("chunk count mismatch").
			WithTag("selected", len(selected)).
			WithTag("chunks", world.Len())
	}

	for _, r := range selected {
		if !tr.Scheduler().IsSpawned(r.ID) {
			return errors.New("selected region is not spawned").
				WithTag("region_id", r.ID)
		}
	}

	regions := make(map[uint64]struct{}, len(selected))
	for _, r := range selected {
		regions[r.ID] = struct{}{}
	}
	for _, c := range world.Chunks() {
		if _, ok := regions[c.Meta.RegionID]; !ok {
			return errors.New("chunk of an unselected region").
				WithTag("region_id", c.Meta.RegionID).
				WithTag("handle", c.Handle)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
