package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistlog "voxelgrid.io/internal/persistence/log"
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/render"
	"voxelgrid.io/internal/sim/tuning"
	"voxelgrid.io/internal/sim/world"
	"voxelgrid.io/internal/transport/inspect"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the stats/lifecycle index")
		disableLog = flag.Bool("disable_logs", false, "disable zstd lifecycle/stats logs")
		seed       = flag.Int64("seed", 0, "override noise seed (0 keeps the tuning value)")

		walkSpeed  = flag.Float64("walk_speed", 8, "scripted viewer speed in blocks/s along +X (0 parks the viewer)")
		walkHeight = flag.Float64("walk_height", 24, "scripted viewer altitude")
		useView    = flag.Bool("view_frustum", true, "give the scripted viewer a view-projection matrix")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Noise.Seed = *seed
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	sink := render.NewMemorySink()
	w := world.New(world.ConfigFromTuning(tune), sink, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	lifecycle := multiLifecycleLogger{}
	stats := multiStatsLogger{}
	if !*disableLog {
		lifeLog := persistlog.NewLifecycleLogger(*dataDir)
		statsLog := persistlog.NewStatsLogger(*dataDir)
		defer lifeLog.Close()
		defer statsLog.Close()
		lifecycle.a = lifeLog
		stats.a = statsLog
	}
	if idx != nil {
		lifecycle.b = idx
		stats.b = idx
	}
	w.SetLifecycleLogger(lifecycle)
	w.SetStatsLogger(stats)

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	script := scriptedViewer{
		Speed:    float32(*walkSpeed),
		Height:   float32(*walkHeight),
		WithView: *useView,
	}
	go script.Run(ctx, w.SetViewer(), time.Second/time.Duration(w.Config().TickRateHz))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, sink, idx)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Tick    uint64        `json:"tick"`
			Visible int           `json:"visible"`
			Stats   any           `json:"stats"`
			Tuning  tuning.Tuning `json:"tuning"`
		}{
			Tick:    w.CurrentTick(),
			Visible: len(w.Visible()),
			Stats:   w.Stats(),
			Tuning:  tune,
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	inspect.NewServer(w, historyOrNil(idx), log.New(os.Stdout, "[inspect] ", log.LstdFlags|log.Lmicroseconds)).Register(mux)

	if envBool("VG_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VG_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (edge=%d workers=%d seed=%d)", *addr, tune.ChunkEdge, tune.Workers, tune.Noise.Seed)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	<-runDone
	w.Close()
	added, removed := sink.Totals()
	logger.Printf("shutdown at tick=%d (render handles added=%d removed=%d)", w.CurrentTick(), added, removed)
}

func writeMetrics(rw io.Writer, w *world.World, sink *render.MemorySink, idx runtimeIndex) {
	st := w.Stats()

	fmt.Fprintf(rw, "# HELP voxelgrid_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_world_tick gauge\n")
	fmt.Fprintf(rw, "voxelgrid_world_tick %d\n", w.CurrentTick())

	fmt.Fprintf(rw, "# HELP voxelgrid_chunks Tracked chunks by lifecycle state.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_chunks gauge\n")
	for _, s := range chunk.States() {
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", s.String(), st.States[s.String()])
	}

	fmt.Fprintf(rw, "# HELP voxelgrid_pipeline Pipeline gauges.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_pipeline gauge\n")
	fmt.Fprintf(rw, "voxelgrid_pipeline{metric=%q} %d\n", "queue_depth", st.QueueDepth)
	fmt.Fprintf(rw, "voxelgrid_pipeline{metric=%q} %d\n", "pending_loads", st.PendingLoads)
	fmt.Fprintf(rw, "voxelgrid_pipeline{metric=%q} %d\n", "in_flight", st.InFlight)
	fmt.Fprintf(rw, "voxelgrid_pipeline{metric=%q} %d\n", "applied_on_tick", st.AppliedOnTick)

	fmt.Fprintf(rw, "# HELP voxelgrid_geometry Loaded geometry totals.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_geometry gauge\n")
	fmt.Fprintf(rw, "voxelgrid_geometry{metric=%q} %d\n", "solid_voxels", st.SolidVoxels)
	fmt.Fprintf(rw, "voxelgrid_geometry{metric=%q} %d\n", "triangles", st.Triangles)
	fmt.Fprintf(rw, "voxelgrid_geometry{metric=%q} %d\n", "visible_chunks", st.Visible)
	fmt.Fprintf(rw, "voxelgrid_geometry{metric=%q} %d\n", "render_handles", sink.Len())

	fmt.Fprintf(rw, "# HELP voxelgrid_lifecycle_total Lifecycle counters.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_lifecycle_total counter\n")
	fmt.Fprintf(rw, "voxelgrid_lifecycle_total{event=%q} %d\n", "generated", st.GeneratedTotal)
	fmt.Fprintf(rw, "voxelgrid_lifecycle_total{event=%q} %d\n", "unloaded", st.UnloadedTotal)
	fmt.Fprintf(rw, "voxelgrid_lifecycle_total{event=%q} %d\n", "stale", st.StaleTotal)
	fmt.Fprintf(rw, "voxelgrid_lifecycle_total{event=%q} %d\n", "failed", st.FailedTotal)
	fmt.Fprintf(rw, "voxelgrid_lifecycle_total{event=%q} %d\n", "duplicate", st.DuplicateTotal)

	if idx == nil {
		return
	}
	q := idx.Stats()
	fmt.Fprintf(rw, "# HELP voxelgrid_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelgrid_index_queue_depth %d\n", q.QueueDepth)

	fmt.Fprintf(rw, "# HELP voxelgrid_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_index_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelgrid_index_dropped_total{kind=%q} %d\n", "stats", q.DropStatsTotal)
	fmt.Fprintf(rw, "voxelgrid_index_dropped_total{kind=%q} %d\n", "event", q.DropEventTotal)

	fmt.Fprintf(rw, "# HELP voxelgrid_index_written_total Index rows written.\n")
	fmt.Fprintf(rw, "# TYPE voxelgrid_index_written_total counter\n")
	fmt.Fprintf(rw, "voxelgrid_index_written_total %d\n", q.WrittenTotal)
}

func historyOrNil(idx runtimeIndex) inspect.History {
	if idx == nil {
		return nil
	}
	return idx
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
