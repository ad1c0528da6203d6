package world

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/pipeline"
	"voxelgrid.io/internal/sim/render"
)

type flatField float64

func (f flatField) Sample(x, y, z float64) float64 { return float64(f) }

type eventRecorder struct{ events []LifecycleEvent }

func (r *eventRecorder) WriteEvent(ev LifecycleEvent) error {
	r.events = append(r.events, ev)
	return nil
}

type statsRecorder struct{ stats []inspectproto.Stats }

func (r *statsRecorder) WriteStats(st inspectproto.Stats) error {
	r.stats = append(r.stats, st)
	return nil
}

func newTestWorld(t *testing.T, mutate func(*Config)) (*World, *render.MemorySink) {
	t.Helper()
	cfg := Config{
		TickRateHz:        20,
		ChunkEdge:         4,
		Radius:            [3]int{2, 1, 2},
		Hysteresis:        1,
		ScanEvery:         time.Nanosecond,
		Workers:           2,
		MaxInFlight:       128,
		MaxAppliesPerTick: 16,
		OcclusionCulling:  true,
		StatsEveryTicks:   1,
		RegistryShards:    8,
		HeightFalloff:     1,
		Sampler:           flatField(0),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sink := render.NewMemorySink()
	w := New(cfg, sink, nil)
	t.Cleanup(w.Close)
	return w, sink
}

func at(cx, cy, cz int) Viewer {
	return Viewer{Pos: mgl32.Vec3{float32(cx*4) + 0.5, float32(cy*4) + 0.5, float32(cz*4) + 0.5}}
}

func stepUntil(t *testing.T, w *World, v Viewer, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w.StepOnce(v)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; stats=%+v", what, w.Stats())
}

func meshedCount(w *World) int {
	return w.Stats().States[chunk.Meshed.String()]
}

func TestWorld_EveryChunkInRangeBecomesMeshed(t *testing.T) {
	w, sink := newTestWorld(t, nil)
	stepUntil(t, w, at(0, 0, 0), "75 meshed chunks", func() bool { return meshedCount(w) == 75 })

	for dx := -2; dx <= 2; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -2; dz <= 2; dz++ {
				e, ok := w.Registry().Get(chunk.Coord{X: dx, Y: dy, Z: dz})
				if !ok || e.State != chunk.Meshed {
					t.Fatalf("chunk (%d,%d,%d) = %+v, %v", dx, dy, dz, e.State, ok)
				}
				if e.Chunk == nil || e.Mesh == nil {
					t.Fatalf("chunk (%d,%d,%d) missing outputs", dx, dy, dz)
				}
			}
		}
	}
	if sink.Len() != 75 {
		t.Fatalf("sink holds %d renderables, want 75", sink.Len())
	}
	st := w.Stats()
	if st.Loaded != 75 || st.GeneratedTotal != 75 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	// Rows y=-1 are solid: 25 chunks of 4³ voxels.
	if st.SolidVoxels != 25*64 {
		t.Fatalf("solid voxels=%d want %d", st.SolidVoxels, 25*64)
	}
	if st.Visible != 75 {
		t.Fatalf("without a view matrix every meshed chunk is visible, got %d", st.Visible)
	}
}

func TestWorld_UnloadsBeyondHysteresisWithinOneScan(t *testing.T) {
	w, sink := newTestWorld(t, nil)
	stepUntil(t, w, at(0, 0, 0), "initial load", func() bool { return meshedCount(w) == 75 })

	// One chunk away stays inside radius+hysteresis: nothing unloads.
	w.StepOnce(at(1, 0, 0))
	if _, ok := w.Registry().Get(chunk.Coord{X: -2}); !ok {
		t.Fatalf("chunk within hysteresis was unloaded")
	}

	w.StepOnce(at(10, 0, 0))
	for _, e := range w.Registry().Snapshot() {
		if d := e.Coord.X - 10; d < -3 || d > 3 {
			t.Fatalf("chunk %s still registered after scan (state %s)", e.Coord, e.State)
		}
	}
	if _, removed := sink.Totals(); removed < 75 {
		t.Fatalf("released %d handles, want at least 75", removed)
	}
	// The 75 initial chunks plus the x=3 column queued by the first move.
	if got := w.Stats().UnloadedTotal; got != 90 {
		t.Fatalf("UnloadedTotal=%d want 90", got)
	}
}

func TestWorld_InFlightResultDiscardedAfterUnload(t *testing.T) {
	w, sink := newTestWorld(t, func(c *Config) { c.MaxAppliesPerTick = 1 })

	w.StepOnce(at(0, 0, 0))
	if got := w.Stats().States[chunk.Generating.String()]; got < 74 {
		t.Fatalf("generating=%d, want at least 74 dispatched", got)
	}
	w.StepOnce(at(50, 0, 0))

	stepUntil(t, w, at(50, 0, 0), "stale results drained", func() bool {
		return w.Stats().StaleTotal >= 74 && w.Pipeline().InFlight() == 0
	})
	for _, e := range w.Registry().Snapshot() {
		if e.Coord.X < 47 {
			t.Fatalf("stale chunk %s resurrected as %s", e.Coord, e.State)
		}
	}
	for _, e := range w.Registry().Snapshot() {
		if e.Handle == (render.Handle{}) {
			continue
		}
		r, ok := sink.Get(e.Handle)
		if !ok || r.Coord.X < 47 {
			t.Fatalf("renderable for %s not near viewer", e.Coord)
		}
	}
}

func TestWorld_ReloadDiscardsSupersededTickets(t *testing.T) {
	w, sink := newTestWorld(t, func(c *Config) {
		c.MaxAppliesPerTick = 1
		c.MaxInFlight = 512
	})

	w.StepOnce(at(0, 0, 0))
	w.StepOnce(at(50, 0, 0))
	w.StepOnce(at(0, 0, 0))

	// Chunks around the origin are generating again under tickets issued
	// after the first dispatch (tickets 1..75).
	var target chunk.Coord
	found := false
	for _, e := range w.Registry().Snapshot() {
		if e.State == chunk.Generating && e.Coord.X <= 2 {
			target, found = e.Coord, true
			break
		}
	}
	if !found {
		t.Fatalf("no re-dispatched chunk near the origin; stats=%+v", w.Stats())
	}
	if tk := w.tickets[target]; tk <= 75 {
		t.Fatalf("ticket for %s=%d, want a re-dispatch ticket", target, tk)
	}
	err := w.checkFresh(pipeline.Result{Coord: target, Ticket: w.tickets[target] - 1})
	if !errors.Is(err, ErrStaleResult) {
		t.Fatalf("superseded ticket accepted: %v", err)
	}

	stepUntil(t, w, at(0, 0, 0), "reload settled", func() bool {
		return meshedCount(w) == 75 && w.Pipeline().InFlight() == 0
	})
	st := w.Stats()
	if sink.Len() != 75 || st.Loaded != 75 {
		t.Fatalf("sink=%d loaded=%d want 75", sink.Len(), st.Loaded)
	}
	// Three dispatch rounds of 75. Only the final round and at most one
	// result from each earlier tick were applied fresh.
	if st.GeneratedTotal+st.StaleTotal != 225 {
		t.Fatalf("generated=%d stale=%d, want 225 results in total", st.GeneratedTotal, st.StaleTotal)
	}
	if st.StaleTotal < 148 {
		t.Fatalf("stale=%d want at least 148", st.StaleTotal)
	}
}

func TestWorld_DispatchBoundedByPipelineCapacity(t *testing.T) {
	w, _ := newTestWorld(t, func(c *Config) {
		c.MaxInFlight = 10
		c.MaxAppliesPerTick = 1
	})
	w.StepOnce(at(0, 0, 0))

	st := w.Stats()
	if w.Pipeline().Capacity() != 10 {
		t.Fatalf("Capacity=%d want 10", w.Pipeline().Capacity())
	}
	if got := st.States[chunk.Generating.String()]; got > 10 {
		t.Fatalf("generating=%d exceeds capacity 10", got)
	}
	if st.InFlight > 10 {
		t.Fatalf("InFlight=%d exceeds capacity 10", st.InFlight)
	}
	if st.States[chunk.Queued.String()] < 64 {
		t.Fatalf("queued=%d, want the remainder held back", st.States[chunk.Queued.String()])
	}
	stepUntil(t, w, at(0, 0, 0), "all meshed", func() bool {
		return meshedCount(w) == 75 && w.Pipeline().InFlight() <= 10
	})
}

func TestWorld_AppliesAtMostBudgetPerTick(t *testing.T) {
	w, _ := newTestWorld(t, func(c *Config) { c.MaxAppliesPerTick = 2 })
	w.StepOnce(at(0, 0, 0))

	deadline := time.Now().Add(5 * time.Second)
	for len(w.Pipeline().Results()) < w.Pipeline().InFlight() {
		if time.Now().After(deadline) {
			t.Fatalf("workers did not finish")
		}
		time.Sleep(time.Millisecond)
	}

	before := meshedCount(w)
	for i := 0; i < 5; i++ {
		w.StepOnce(at(0, 0, 0))
		st := w.Stats()
		if st.AppliedOnTick != 2 {
			t.Fatalf("tick %d applied %d results, want 2", st.Tick, st.AppliedOnTick)
		}
		if got := meshedCount(w); got != before+2*(i+1) {
			t.Fatalf("meshed=%d want %d", got, before+2*(i+1))
		}
	}
}

func TestWorld_FailedGenerationIsDroppedAndRequeued(t *testing.T) {
	w, sink := newTestWorld(t, func(c *Config) {
		c.ChunkEdge = chunk.MaxEdge + 1
		c.Radius = [3]int{0, 0, 0}
	})
	origin := Viewer{Pos: mgl32.Vec3{1, 1, 1}}
	stepUntil(t, w, origin, "two failures", func() bool { return w.Stats().FailedTotal >= 2 })

	if meshedCount(w) != 0 || sink.Len() != 0 {
		t.Fatalf("failed chunk reached the renderer")
	}
	st := w.Stats()
	if st.GeneratedTotal != 0 {
		t.Fatalf("GeneratedTotal=%d want 0", st.GeneratedTotal)
	}
}

func TestWorld_FrustumRestrictsVisible(t *testing.T) {
	w, _ := newTestWorld(t, nil)
	v := at(0, 0, 0)
	stepUntil(t, w, v, "initial load", func() bool { return meshedCount(w) == 75 })

	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(v.Pos, v.Pos.Add(mgl32.Vec3{0, 0, -1}), mgl32.Vec3{0, 1, 0})
	v.ViewProj = proj.Mul4(view)
	v.HasView = true
	w.StepOnce(v)

	vis := w.Visible()
	if len(vis) == 0 || len(vis) >= 75 {
		t.Fatalf("visible=%d, want a strict non-empty subset", len(vis))
	}
	for _, c := range vis {
		if c.Z > 0 {
			t.Fatalf("chunk %s behind the camera reported visible", c)
		}
	}
	if w.Stats().Visible != len(vis) {
		t.Fatalf("stats visible=%d want %d", w.Stats().Visible, len(vis))
	}
}

func TestWorld_LoggersAndObservers(t *testing.T) {
	events := &eventRecorder{}
	stats := &statsRecorder{}
	w, _ := newTestWorld(t, func(c *Config) {
		c.Radius = [3]int{0, 0, 0}
		c.StatsEveryTicks = 3
	})
	w.SetLifecycleLogger(events)
	w.SetStatsLogger(stats)

	out := make(chan []byte, 1)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: out, EveryTicks: 2})

	for i := 0; i < 6; i++ {
		w.StepOnce(at(0, 0, 0))
	}
	if len(stats.stats) != 2 || stats.stats[0].Tick != 3 || stats.stats[1].Tick != 6 {
		t.Fatalf("unexpected stats cadence: %+v", stats.stats)
	}
	if len(events.events) == 0 || events.events[0].From != "UNLOADED" || events.events[0].To != "QUEUED" {
		t.Fatalf("unexpected first event: %+v", events.events)
	}

	var msg inspectproto.StatsMsg
	if err := json.Unmarshal(<-out, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "STATS" || msg.Tick != 6 {
		t.Fatalf("expected latest STATS for tick 6, got %s tick %d", msg.Type, msg.Tick)
	}

	w.handleObserverLeave("O1")
	w.StepOnce(at(0, 0, 0))
	w.StepOnce(at(0, 0, 0))
	select {
	case b := <-out:
		t.Fatalf("message after leave: %s", b)
	default:
	}
}

func TestWorld_CloseReleasesHandles(t *testing.T) {
	w, sink := newTestWorld(t, nil)
	stepUntil(t, w, at(0, 0, 0), "initial load", func() bool { return meshedCount(w) == 75 })
	w.Close()
	if sink.Len() != 0 {
		t.Fatalf("sink still holds %d renderables", sink.Len())
	}
	if w.Registry().Snapshot() != nil {
		t.Fatalf("registry not emptied")
	}
}
