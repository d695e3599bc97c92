package meshcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel = "result"

	lookupHit    = "hit"
	lookupMiss   = "miss"
	lookupBypass = "bypass"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "terrain_mesh_cache_lookups_total",
	Help: "The number of mesh cache lookups.",
}, []string{
	resultLabel,
})

func instrumentLookup(result string) {
	lookups.With(prometheus.Labels{
		resultLabel: result,
	}).Inc()
}
