package streaming

import (
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
)

const (
	// ErrTypeBuildPanic is the error type of a mesh build that panicked.
	ErrTypeBuildPanic = "build-panic"
)

// A job is everything a worker needs to build one mesh. Source and config
// are copies owned by the job.
type job struct {
	req    models.MeshRequest
	source heightmap.Source
	config config.TerrainConfig
	build  mesh.BuildFunc
	done   chan<- taskResult
}

type taskResult struct {
	result models.MeshResult
	err    error
}

// pool runs mesh builds on a fixed number of goroutines.
type pool struct {
	jobs chan job
	wg   sync.WaitGroup
	once sync.Once
}

// newPool starts workers goroutines. Up to queueSize jobs can be submitted
// without blocking.
func newPool(workers, queueSize int) *pool {
	p := &pool{
		jobs: make(chan job, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				j.done <- run(j)
			}
		}()
	}
	return p
}

func (p *pool) submit(j job) {
	p.jobs <- j
}

// close stops the workers once the submitted jobs are done.
func (p *pool) close() {
	p.once.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func run(j job) (res taskResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = taskResult{
				result: models.MeshResult{RegionID: j.req.RegionID},
				err: errors.Newf("mesh build panicked: %v", r).
					WithType(ErrTypeBuildPanic).
					WithTag("region_id", j.req.RegionID),
			}
			logs.WithTag("region_id", j.req.RegionID).Error(res.err)
		}
	}()

	m := j.build(j.req, j.source, j.config)
	elapsed := time.Since(start)
	instrumentBuild(elapsed)

	return taskResult{
		result: models.MeshResult{
			RegionID:     j.req.RegionID,
			Bounds:       j.req.Bounds,
			Coords:       j.req.Coords,
			Depth:        j.req.Depth,
			Subdivisions: j.req.Subdivisions,
			Mesh:         m,
			Elapsed:      elapsed,
		},
	}
}
