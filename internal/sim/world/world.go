package world

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/discovery"
	"voxelgrid.io/internal/sim/pipeline"
	"voxelgrid.io/internal/sim/registry"
	"voxelgrid.io/internal/sim/render"
	"voxelgrid.io/internal/sim/terrain/gen"
	"voxelgrid.io/internal/sim/terrain/noise"
)

// World drives chunk discovery, generation and render handoff.
// Loop state must be accessed only from the world loop goroutine; the
// registry, stats and visible set are safe to read from anywhere.
type World struct {
	cfg  Config
	log  *log.Logger
	sink render.Sink

	reg   *registry.Registry
	disc  *discovery.Engine
	queue *discovery.Queue
	pipe  *pipeline.Pipeline

	tick atomic.Uint64

	viewer      Viewer
	viewerChunk chunk.Coord
	hasViewer   bool

	// tickets holds the ticket of the task currently generating each chunk.
	tickets    map[chunk.Coord]uint64
	nextTicket uint64

	solidTotal int
	triTotal   int

	generated uint64
	unloaded  uint64
	stale     uint64
	failed    uint64
	duplicate uint64

	viewerIn      chan Viewer
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once
	closeOnce     sync.Once

	observers map[string]*observerClient

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	lifecycleLogger LifecycleLogger
	statsLogger     StatsLogger

	mu      sync.RWMutex
	stats   inspectproto.Stats
	visible []chunk.Coord
}

func New(cfg Config, sink render.Sink, logger *log.Logger) *World {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if sink == nil {
		sink = render.NewMemorySink()
	}

	var terrain *gen.Generator
	if cfg.Sampler != nil {
		terrain = &gen.Generator{
			Noise:         cfg.Sampler,
			Amplitude:     cfg.Noise.Amplitude,
			Threshold:     cfg.Threshold,
			HeightFalloff: cfg.HeightFalloff,
			SurfaceLevel:  cfg.SurfaceLevel,
		}
	} else {
		n := noise.New(cfg.Noise)
		cfg.Noise = n.Params()
		terrain = gen.New(n, cfg.Threshold, cfg.HeightFalloff, cfg.SurfaceLevel)
	}

	w := &World{
		cfg:  cfg,
		log:  logger,
		sink: sink,
		reg:  registry.New(cfg.RegistryShards),
		disc: discovery.New(discovery.Config{
			Radius:     cfg.Radius,
			Hysteresis: cfg.Hysteresis,
			ScanEvery:  cfg.ScanEvery,
		}),
		queue: discovery.NewQueue(),
		pipe: pipeline.New(pipeline.Config{
			Workers:          cfg.Workers,
			QueueSize:        cfg.MaxInFlight,
			OcclusionCulling: cfg.OcclusionCulling,
		}, terrain, logger),
		tickets:       map[chunk.Coord]uint64{},
		viewerIn:      make(chan Viewer, 16),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	w.stats = inspectproto.Stats{States: map[string]int{}}
	return w
}

func (w *World) SetLifecycleLogger(l LifecycleLogger) { w.lifecycleLogger = l }
func (w *World) SetStatsLogger(l StatsLogger)         { w.statsLogger = l }

// SetViewer feeds viewer updates into Run. The latest value wins at each tick.
func (w *World) SetViewer() chan<- Viewer { return w.viewerIn }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) Config() Config               { return w.cfg }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Registry() registry.Reader    { return w.reg }
func (w *World) Pipeline() *pipeline.Pipeline { return w.pipe }

// Stats returns the snapshot published by the last tick.
func (w *World) Stats() inspectproto.Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Visible returns the Meshed chunks that passed the last frustum test.
func (w *World) Visible() []chunk.Coord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]chunk.Coord(nil), w.visible...)
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case v := <-w.viewerIn:
			w.viewer = v
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case now := <-ticker.C:
			w.step(now)
		}
	}
}

// StepOnce runs a single tick with the given viewer. It must not be used
// concurrently with Run.
func (w *World) StepOnce(v Viewer) {
	w.viewer = v
	w.step(time.Now())
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// Close stops the worker pool, releases every render handle and empties the
// registry. Call it after Run has returned.
func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.Stop()
		w.pipe.Close()
		for _, e := range w.reg.Snapshot() {
			if e.Handle != (render.Handle{}) {
				if err := w.sink.Remove(e.Handle); err != nil {
					w.log.Printf("close: release %s: %v", e.Coord, err)
				}
			}
		}
		w.reg.Close()
		for id, c := range w.observers {
			close(c.out)
			delete(w.observers, id)
		}
	})
}
