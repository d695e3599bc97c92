package featureflag

type Flag string

const (
	// Completed meshes of regions that are no longer selected are spawned
	// instead of being discarded.
	FlagKeepStaleResults Flag = "KEEP_STALE_RESULTS"

	// Queued mesh requests keep the priority computed when they were
	// enqueued.
	FlagFreezePriorities Flag = "FREEZE_PRIORITIES"

	FlagDisableMeshCache      Flag = "DISABLE_MESH_CACHE"
	FlagDisableViewerMeshes   Flag = "DISABLE_VIEWER_MESHES"
	FlagDisableViewerCamera   Flag = "DISABLE_VIEWER_CAMERA"
	FlagDisableViewerSnapshot Flag = "DISABLE_VIEWER_SNAPSHOT"
)

// Flags lists every recognized flag.
var Flags = []Flag{
	FlagKeepStaleResults,
	FlagFreezePriorities,
	FlagDisableMeshCache,
	FlagDisableViewerMeshes,
	FlagDisableViewerCamera,
	FlagDisableViewerSnapshot,
}
