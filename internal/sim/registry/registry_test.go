package registry

import (
	"errors"
	"sync"
	"testing"

	"voxelgrid.io/internal/sim/chunk"
)

func TestRegistry_InsertGetRemove(t *testing.T) {
	r := New(4)
	c := chunk.Coord{X: 1, Y: 2, Z: 3}
	if r.Contains(c) {
		t.Fatalf("empty registry must not contain %v", c)
	}
	if err := r.Insert(c, chunk.Queued); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.Insert(c, chunk.Queued); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	e, ok := r.Get(c)
	if !ok || e.State != chunk.Queued || e.Coord != c {
		t.Fatalf("Get=%+v ok=%v", e, ok)
	}
	if _, ok := r.Remove(c); !ok {
		t.Fatalf("Remove reported missing entry")
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d want 0", r.Len())
	}
}

func TestRegistry_TransitionRules(t *testing.T) {
	r := New(1)
	c := chunk.Coord{}
	if _, err := r.Transition(c, chunk.Queued); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = r.Insert(c, chunk.Queued)
	for _, to := range []chunk.State{chunk.Generating, chunk.Generated, chunk.Meshed} {
		if _, err := r.Transition(c, to); err != nil {
			t.Fatalf("Transition -> %s: %v", to, err)
		}
	}
	from, err := r.Transition(c, chunk.Generating)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if from != chunk.Meshed {
		t.Fatalf("from=%s want MESHED", from)
	}
	if e, _ := r.Get(c); e.State != chunk.Meshed {
		t.Fatalf("rejected transition must not change state, got %s", e.State)
	}
	if _, err := r.Transition(c, chunk.Unloading); err != nil {
		t.Fatalf("Meshed -> Unloading: %v", err)
	}
}

func TestRegistry_SnapshotOrderedAndCounts(t *testing.T) {
	r := New(8)
	coords := []chunk.Coord{{X: 2, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 0, Y: 0, Z: -1}, {X: -1, Y: 5, Z: 5}}
	for _, c := range coords {
		_ = r.Insert(c, chunk.Queued)
	}
	_, _ = r.Transition(chunk.Coord{X: 2}, chunk.Generating)

	snap := r.Snapshot()
	if len(snap) != len(coords) {
		t.Fatalf("snapshot len=%d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if !snap[i-1].Coord.Less(snap[i].Coord) {
			t.Fatalf("snapshot not ordered: %v before %v", snap[i-1].Coord, snap[i].Coord)
		}
	}
	counts := r.Counts()
	if counts[chunk.Queued] != 3 || counts[chunk.Generating] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	r.Close()
	if r.Len() != 0 {
		t.Fatalf("Close must clear entries")
	}
}

func TestRegistry_ConcurrentWriters(t *testing.T) {
	r := New(16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := chunk.Coord{X: w, Y: i}
				if err := r.Insert(c, chunk.Queued); err != nil {
					t.Errorf("Insert %v: %v", c, err)
					return
				}
				if _, err := r.Transition(c, chunk.Generating); err != nil {
					t.Errorf("Transition %v: %v", c, err)
					return
				}
				_ = r.Contains(chunk.Coord{X: (w + 1) % 8, Y: i})
			}
		}(w)
	}
	wg.Wait()
	if got := r.Counts()[chunk.Generating]; got != 8*200 {
		t.Fatalf("generating=%d want %d", got, 8*200)
	}
}
