package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"

	"github.com/aukilabs/terrain/camera"
	terrainconfig "github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/featureflag"
	"github.com/aukilabs/terrain/heightmap"
	terrainhttp "github.com/aukilabs/terrain/http"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/meshcache"
	"github.com/aukilabs/terrain/render"
	"github.com/aukilabs/terrain/smoketest"
	"github.com/aukilabs/terrain/terrain"
	"github.com/aukilabs/terrain/viewer"
)

var (
	// The terrain server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "terrain_info",
		Help:        "Terrain server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"TERRAIN_ADDR"                 help:"Listening address for viewer connections."`
	AdminAddr          string        `cli:""        env:"TERRAIN_ADMIN_ADDR"           help:"Admin listening address."`
	LogLevel           string        `cli:""        env:"TERRAIN_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"TERRAIN_LOG_INDENT"           help:"Indent logs."`
	Config             string        `cli:""        env:"TERRAIN_CONFIG"               help:"The YAML file that tunes the terrain. Defaults are used when empty."`
	MeshCache          string        `cli:""        env:"TERRAIN_MESH_CACHE"           help:"The SQLite file where generated meshes are cached. No cache is used when empty."`
	Camera             string        `cli:""        env:"TERRAIN_CAMERA"               help:"Camera source (auto|remote|flythrough). Auto follows viewers and flies through when none drives the camera."`
	FrameDuration      time.Duration `cli:",hidden" env:"TERRAIN_FRAME_DURATION"       help:"The duration of a streaming step."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"TERRAIN_LOG_SUMMARY_INTERVAL" help:"The duration between each streaming and viewer log summary."`
	ShutdownTimeout    time.Duration `cli:",hidden" env:"TERRAIN_SHUTDOWN_TIMEOUT"     help:"The time given to servers to drain their connections on shutdown."`
	Viewer             viewerConfig  `cli:",hidden" env:"-"                            help:"Viewer configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"TERRAIN_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type viewerConfig struct {
	IdleTimeout     time.Duration `cli:",hidden" env:"TERRAIN_VIEWER_IDLE_TIMEOUT"     help:"Time until an idle viewer will be disconnected."`
	StatsInterval   time.Duration `cli:",hidden" env:"TERRAIN_VIEWER_STATS_INTERVAL"   help:"The interval between each stats message sent to viewers."`
	CameraRate      float64       `cli:",hidden" env:"TERRAIN_VIEWER_CAMERA_RATE"      help:"The number of camera updates accepted per second from a viewer."`
	CameraBurst     int           `cli:",hidden" env:"TERRAIN_VIEWER_CAMERA_BURST"     help:"The number of camera updates accepted at once from a viewer."`
	EventBufferSize int           `cli:",hidden" env:"TERRAIN_VIEWER_EVENT_BUFFER_SIZE" help:"The number of world events buffered before a viewer is considered too slow."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"TERRAIN_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"TERRAIN_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"TERRAIN_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"TERRAIN_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		LogLevel:           logs.InfoLevel.String(),
		Camera:             "auto",
		FrameDuration:      time.Second / 60,
		LogSummaryInterval: time.Minute,
		ShutdownTimeout:    time.Second * 10,
		Viewer: viewerConfig{
			IdleTimeout:     time.Minute * 5,
			StatsInterval:   time.Second,
			CameraRate:      30,
			CameraBurst:     5,
			EventBufferSize: 4096,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the terrain streaming server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "terrain",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	terrainConf, err := loadTerrainConfig(conf.Config)
	if err != nil {
		logs.Fatal(err)
	}

	source, err := heightmap.NewSource(terrainConf)
	if err != nil {
		logs.Fatal(errors.New("creating heightmap failed").Wrap(err))
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	if unknown := featureFlags.Unknown(); len(unknown) != 0 {
		logs.Warn(errors.New("unknown feature flags").WithTag("flags", unknown))
	}

	build := mesh.BuildFunc(mesh.Build)
	if conf.MeshCache != "" && !featureFlags.IsSet(featureflag.FlagDisableMeshCache) {
		cache, err := meshcache.Open(conf.MeshCache)
		if err != nil {
			logs.Fatal(err)
		}
		defer cache.Close()

		build = cache.Wrap(build)
	}

	world := render.NewWorld()
	world.Init()

	remote := &camera.Remote{}
	flythrough := &camera.Flythrough{
		Start:    mgl32.Vec3(terrainConf.Flythrough.Start),
		Velocity: mgl32.Vec3(terrainConf.Flythrough.Velocity),
		Ground:   source,
	}

	var cam camera.Source
	switch conf.Camera {
	case "remote":
		cam = remote
	case "flythrough":
		cam = flythrough
	default:
		cam = camera.First{remote, flythrough}
	}

	tr := terrain.New(terrain.Options{
		Config:           terrainConf,
		Source:           source,
		Camera:           cam,
		Sink:             render.SinkWithMetrics(render.SinkWithLogs(world)),
		Build:            build,
		FrameDuration:    conf.FrameDuration,
		SummaryInterval:  conf.LogSummaryInterval,
		KeepStaleResults: featureFlags.IsSet(featureflag.FlagKeepStaleResults),
		FreezePriorities: featureFlags.IsSet(featureflag.FlagFreezePriorities),
	})
	go tr.StartDispatchFrames()
	defer tr.Close()

	readinessCheck := func() bool {
		return world.Ready() && tr.Stats().Step > 0
	}

	var service http.ServeMux
	service.Handle("/health", terrainhttp.HandleWithCORS(http.HandlerFunc(terrainhttp.HandleHealthCheck)))
	service.Handle("/version", terrainhttp.HandleWithCORS(http.HandlerFunc(terrainhttp.HandleVersion(version))))
	service.Handle("/ready", terrainhttp.HandleWithCORS(http.HandlerFunc(terrainhttp.HandleReadyCheck(readinessCheck))))
	service.Handle("/height", terrainhttp.HandleWithCORS(terrainhttp.HandleHeight(tr.Query())))
	service.Handle("/stats", terrainhttp.HandleWithCORS(terrainhttp.HandleJSON(tr.Stats)))

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Config: terrainConf,
		Source: source,
		Build:  build,
		SendResult: func(_ context.Context, res smoketest.Result) error {
			logs.WithTag("run_id", res.RunID).
				WithTag("succeeded", res.Succeeded).
				WithTag("waypoints", res.Waypoints).
				WithTag("steps", res.Steps).
				WithTag("chunks", res.Chunks).
				WithTag("duration", res.Duration).
				Info("smoke test finished")
			return nil
		},
	}))

	service.Handle("/", terrainhttp.HandleWithCORS(viewer.NewServer(ctx, func() viewer.Handler {
		var h viewer.Handler = &viewer.RealtimeHandler{
			ClientIdleTimeout:   conf.Viewer.IdleTimeout,
			ClientStatsInterval: conf.Viewer.StatsInterval,
			World:               world,
			Camera:              remote,
			Stats:               tr.Stats,
			CameraRate:          rate.Limit(conf.Viewer.CameraRate),
			CameraBurst:         conf.Viewer.CameraBurst,
			EventBufferSize:     conf.Viewer.EventBufferSize,
			FeatureFlags:        featureFlags,
		}
		h = viewer.HandlerWithLogs(h, conf.LogSummaryInterval)
		h = viewer.HandlerWithMetrics(h)
		return h
	})))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", terrainhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", terrainhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("heightmap", source.Kind().String()).
		WithTag("camera", conf.Camera).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting terrain server")

	terrainhttp.ListenAndServe(ctx, conf.ShutdownTimeout,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			terrainhttp.MetricsPathFormatter("/health", "/version", "/ready", "/height", "/stats", "/smoke-test"))},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func loadTerrainConfig(path string) (terrainconfig.TerrainConfig, error) {
	if path == "" {
		c := terrainconfig.Default()
		return c, c.Validate()
	}
	return terrainconfig.Load(path)
}

func validateConfig(conf config) error {
	switch conf.Camera {
	case "auto", "remote", "flythrough":
	default:
		return errors.New("invalid camera source").
			WithTag("camera", conf.Camera)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if conf.Viewer.CameraRate < 0 {
		return errors.New("viewer camera rate must not be negative").
			WithTag("camera_rate", conf.Viewer.CameraRate)
	}
	return nil
}
