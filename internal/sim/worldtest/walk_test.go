package worldtest

import (
	"testing"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/world/logic/mathx"
)

func TestWalk_LoadedSetTracksViewer(t *testing.T) {
	cfg := noiseConfig(99, 3)
	cfg.Radius = [3]int{2, 1, 1}
	h := NewHarness(t, cfg)

	for x := 0; x <= 12; x += 3 {
		viewer := chunk.Coord{X: x, Z: x / 2}
		h.MoveTo(viewer)
		h.Settle()

		st := h.W.Stats()
		if st.Viewer != [3]int{viewer.X, viewer.Y, viewer.Z} {
			t.Fatalf("stats viewer=%v want %s", st.Viewer, viewer)
		}
		for dx := -2; dx <= 2; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					c := viewer.Add(chunk.Coord{X: dx, Y: dy, Z: dz})
					e, ok := h.W.Registry().Get(c)
					if !ok || e.State != chunk.Meshed {
						t.Fatalf("viewer %s: chunk %s not meshed", viewer, c)
					}
				}
			}
		}
		for _, e := range h.W.Registry().Snapshot() {
			off := e.Coord.Sub(viewer)
			if mathx.AbsInt(off.X) > 3 || mathx.AbsInt(off.Y) > 2 || mathx.AbsInt(off.Z) > 2 {
				t.Fatalf("viewer %s: chunk %s outside radius+hysteresis", viewer, e.Coord)
			}
		}
		if h.Sink.Len() != st.Loaded {
			t.Fatalf("sink holds %d renderables for %d loaded chunks", h.Sink.Len(), st.Loaded)
		}
	}
}
