package worldtest

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/render"
	world "voxelgrid.io/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Step()/Settle() advance the world with StepOnce()
// - Sink records what reached the renderer
// - Digests() summarises the loaded voxel data
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T    *testing.T
	W    *world.World
	Sink *render.MemorySink

	Viewer world.Viewer
}

func NewHarness(t *testing.T, cfg world.Config) *Harness {
	t.Helper()
	sink := render.NewMemorySink()
	w := world.New(cfg, sink, nil)
	t.Cleanup(w.Close)
	return &Harness{T: t, W: w, Sink: sink}
}

// MoveTo places the viewer at the centre of a chunk.
func (h *Harness) MoveTo(c chunk.Coord) {
	edge := float32(h.W.Config().ChunkEdge)
	h.Viewer.Pos = c.Origin(h.W.Config().ChunkEdge).Add(mgl32.Vec3{edge / 2, edge / 2, edge / 2})
}

func (h *Harness) Step() {
	h.W.StepOnce(h.Viewer)
}

// Settle steps until nothing is queued or in flight and every tracked chunk
// is Meshed.
func (h *Harness) Settle() {
	h.T.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		h.Step()
		st := h.W.Stats()
		if st.QueueDepth == 0 && st.InFlight == 0 && st.States[chunk.Meshed.String()] == st.Loaded {
			return
		}
		time.Sleep(time.Millisecond)
	}
	h.T.Fatalf("world did not settle: %+v", h.W.Stats())
}

// Digests returns the voxel digest of every Meshed chunk.
func (h *Harness) Digests() map[chunk.Coord][32]byte {
	out := map[chunk.Coord][32]byte{}
	for _, e := range h.W.Registry().Snapshot() {
		if e.State == chunk.Meshed && e.Chunk != nil {
			out[e.Coord] = e.Chunk.Digest()
		}
	}
	return out
}
