package world

import (
	"errors"
	"fmt"
	"time"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/discovery"
	"voxelgrid.io/internal/sim/frustum"
	"voxelgrid.io/internal/sim/pipeline"
	"voxelgrid.io/internal/sim/registry"
	"voxelgrid.io/internal/sim/render"
)

func (w *World) step(now time.Time) {
	tick := w.tick.Add(1)

	vc := chunk.CoordOf(w.viewer.Pos, w.cfg.ChunkEdge)
	if w.hasViewer && vc != w.viewerChunk {
		w.queue.Reprioritise(vc)
	}
	w.viewerChunk = vc
	w.hasViewer = true

	if w.disc.Due(now, vc) {
		w.enqueue(tick, w.disc.Plan(vc, w.reg))
	}
	w.dispatch(tick)
	applied := w.drainResults(tick)

	var visible []chunk.Coord
	if w.viewer.HasView {
		visible = frustum.Filter(frustum.FromMatrix(w.viewer.ViewProj), w.reg, w.cfg.ChunkEdge, w.cfg.FrustumMargin)
	} else {
		for _, e := range w.reg.Snapshot() {
			if e.State == chunk.Meshed {
				visible = append(visible, e.Coord)
			}
		}
	}

	st := w.buildStats(tick, vc, len(visible), applied)
	w.mu.Lock()
	w.stats = st
	w.visible = visible
	w.mu.Unlock()

	w.publishStats(tick, st)
}

// enqueue registers planned loads as Queued and merges the plan into the
// work queue.
func (w *World) enqueue(tick uint64, p discovery.Plan) {
	if p.Empty() {
		return
	}
	var loads []chunk.Coord
	for _, c := range p.Loads {
		if err := w.reg.Insert(c, chunk.Queued); err != nil {
			if errors.Is(err, registry.ErrDuplicate) {
				w.duplicate++
				continue
			}
			w.log.Printf("queue %s: %v", c, err)
			continue
		}
		w.event(tick, c, chunk.Unloaded, chunk.Queued, "discovered", 0)
		loads = append(loads, c)
	}
	p.Loads = loads
	w.queue.PushPlan(p)
}

// dispatch applies queued unloads and starts generation for queued loads
// while the pipeline has room.
func (w *World) dispatch(tick uint64) {
	for {
		it, ok := w.queue.Front()
		if !ok {
			return
		}
		if it.Action == discovery.Unload {
			w.queue.Pop()
			w.unload(tick, it.Coord, "out_of_range")
			continue
		}
		if w.pipe.InFlight() >= w.pipe.Capacity() {
			return
		}
		w.queue.Pop()
		w.startGeneration(tick, it.Coord)
	}
}

func (w *World) startGeneration(tick uint64, c chunk.Coord) {
	from, err := w.reg.Transition(c, chunk.Generating)
	if err != nil {
		// Unloaded or already dispatched since it was queued.
		if !errors.Is(err, registry.ErrNotFound) {
			w.log.Printf("dispatch %s: %v", c, err)
		}
		return
	}
	w.nextTicket++
	ticket := w.nextTicket
	w.tickets[c] = ticket
	if err := w.pipe.Submit(pipeline.Request{Coord: c, Edge: w.cfg.ChunkEdge, Tick: tick, Ticket: ticket}); err != nil {
		w.log.Printf("dispatch %s: %v", c, err)
		delete(w.tickets, c)
		w.drop(tick, c, chunk.Generating, err.Error())
		return
	}
	w.event(tick, c, from, chunk.Generating, "", 0)
}

// unload releases the render handle and removes the entry in one pass.
// In-flight work for c is discarded when its result arrives.
func (w *World) unload(tick uint64, c chunk.Coord, reason string) {
	w.queue.Drop(c)
	e, ok := w.reg.Get(c)
	if !ok {
		return
	}
	from, err := w.reg.Transition(c, chunk.Unloading)
	if err != nil {
		w.log.Printf("unload %s: %v", c, err)
		return
	}
	w.event(tick, c, from, chunk.Unloading, reason, 0)
	if e.Handle != (render.Handle{}) {
		if err := w.sink.Remove(e.Handle); err != nil {
			w.log.Printf("unload %s: release handle: %v", c, err)
		}
	}
	if e.Chunk != nil {
		w.solidTotal -= e.Chunk.SolidCount()
	}
	if e.Mesh != nil {
		w.triTotal -= e.Mesh.Triangles()
	}
	w.reg.Remove(c)
	delete(w.tickets, c)
	w.unloaded++
	w.event(tick, c, chunk.Unloading, chunk.Unloaded, reason, 0)
}

// drop sends a generating chunk back to Unloaded so a later scan can queue
// it again.
func (w *World) drop(tick uint64, c chunk.Coord, from chunk.State, reason string) {
	if _, err := w.reg.Transition(c, chunk.Unloaded); err != nil {
		w.log.Printf("drop %s: %v", c, err)
	}
	w.reg.Remove(c)
	w.event(tick, c, from, chunk.Unloaded, reason, 0)
}

// drainResults applies at most MaxAppliesPerTick results without blocking.
// Anything beyond that stays in the channel for later ticks.
func (w *World) drainResults(tick uint64) int {
	n := 0
	for n < w.cfg.MaxAppliesPerTick {
		select {
		case res := <-w.pipe.Results():
			w.pipe.Ack()
			if err := w.apply(tick, res); err != nil && !errors.Is(err, ErrStaleResult) {
				w.log.Printf("apply %s: %v", res.Coord, err)
			}
			n++
		default:
			return n
		}
	}
	return n
}

func (w *World) checkFresh(res pipeline.Result) error {
	e, ok := w.reg.Get(res.Coord)
	if !ok {
		return fmt.Errorf("%w: %s not tracked", ErrStaleResult, res.Coord)
	}
	if e.State != chunk.Generating || w.tickets[res.Coord] != res.Ticket {
		return fmt.Errorf("%w: %s is %s", ErrStaleResult, res.Coord, e.State)
	}
	return nil
}

func (w *World) apply(tick uint64, res pipeline.Result) error {
	c := res.Coord
	if err := w.checkFresh(res); err != nil {
		w.stale++
		return err
	}
	delete(w.tickets, c)
	ms := float64(res.Elapsed) / float64(time.Millisecond)

	if res.Err != nil {
		w.failed++
		w.drop(tick, c, chunk.Generating, res.Err.Error())
		return res.Err
	}

	if _, err := w.reg.Transition(c, chunk.Generated); err != nil {
		return err
	}
	w.event(tick, c, chunk.Generating, chunk.Generated, "", ms)

	h, err := w.sink.Register(c, res.Mesh, render.Transform(c, w.cfg.ChunkEdge))
	if err != nil {
		w.failed++
		w.unload(tick, c, "render_register_failed")
		return fmt.Errorf("register mesh: %w", err)
	}
	if err := w.reg.Attach(c, res.Chunk, res.Mesh, h); err != nil {
		_ = w.sink.Remove(h)
		return err
	}
	if _, err := w.reg.Transition(c, chunk.Meshed); err != nil {
		return err
	}
	w.solidTotal += res.Chunk.SolidCount()
	w.triTotal += res.Mesh.Triangles()
	w.generated++
	w.event(tick, c, chunk.Generated, chunk.Meshed, "", ms)
	return nil
}

func (w *World) event(tick uint64, c chunk.Coord, from, to chunk.State, reason string, ms float64) {
	if w.lifecycleLogger == nil {
		return
	}
	_ = w.lifecycleLogger.WriteEvent(LifecycleEvent{
		Tick:      tick,
		Coord:     [3]int{c.X, c.Y, c.Z},
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
		ElapsedMS: ms,
	})
}

func (w *World) buildStats(tick uint64, vc chunk.Coord, visible, applied int) inspectproto.Stats {
	states := map[string]int{}
	for st, n := range w.reg.Counts() {
		states[st.String()] = n
	}
	return inspectproto.Stats{
		Tick:           tick,
		Viewer:         [3]int{vc.X, vc.Y, vc.Z},
		States:         states,
		Loaded:         w.reg.Len(),
		SolidVoxels:    w.solidTotal,
		Triangles:      w.triTotal,
		Visible:        visible,
		QueueDepth:     w.queue.Len(),
		PendingLoads:   w.queue.PendingLoads(),
		InFlight:       w.pipe.InFlight(),
		AppliedOnTick:  applied,
		GeneratedTotal: w.generated,
		UnloadedTotal:  w.unloaded,
		StaleTotal:     w.stale,
		FailedTotal:    w.failed,
		DuplicateTotal: w.duplicate,
	}
}

func (w *World) publishStats(tick uint64, st inspectproto.Stats) {
	w.broadcastStats(tick, st)
	if tick%uint64(w.cfg.StatsEveryTicks) != 0 {
		return
	}
	if w.statsLogger != nil {
		_ = w.statsLogger.WriteStats(st)
	}
}
