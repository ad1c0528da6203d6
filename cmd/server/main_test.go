package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/render"
	"voxelgrid.io/internal/sim/world"
)

func TestScriptedViewer_WalksAlongX(t *testing.T) {
	s := scriptedViewer{Speed: 10, Height: 20, WithView: true}

	v0 := s.At(0)
	v1 := s.At(2 * time.Second)
	if v0.Pos.X() != 0 || v1.Pos.X() != 20 {
		t.Fatalf("x positions: %v %v", v0.Pos, v1.Pos)
	}
	if v1.Pos.Y() != 20 || v1.Pos.Z() != 0 {
		t.Fatalf("unexpected altitude/lateral drift: %v", v1.Pos)
	}
	if !v1.HasView {
		t.Fatalf("expected view matrix")
	}

	// A point ahead of the viewer projects inside clip space.
	ahead := v1.ViewProj.Mul4x1(v1.Pos.Add(mgl32.Vec3{10, -2.5, 0}).Vec4(1))
	if ahead.W() <= 0 {
		t.Fatalf("point ahead is behind the camera: %v", ahead)
	}
	if parked := (scriptedViewer{Height: 5}).At(time.Hour); parked.Pos.X() != 0 || parked.HasView {
		t.Fatalf("parked viewer moved: %+v", parked)
	}
}

func TestScriptedViewer_RunDropsWhenFull(t *testing.T) {
	out := make(chan world.Viewer, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		scriptedViewer{Speed: 1}.Run(ctx, out, time.Millisecond)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if len(out) != 1 {
		t.Fatalf("expected a buffered viewer, got %d", len(out))
	}
}

func TestWriteMetrics(t *testing.T) {
	cfg := world.Config{
		TickRateHz:  20,
		ChunkEdge:   4,
		Radius:      [3]int{1, 0, 1},
		Hysteresis:  1,
		Workers:     2,
		MaxInFlight: 16,
	}
	sink := render.NewMemorySink()
	w := world.New(cfg, sink, nil)
	defer w.Close()
	for i := 0; i < 200 && w.Stats().States[chunk.Meshed.String()] < 9; i++ {
		w.StepOnce(world.Viewer{})
		time.Sleep(2 * time.Millisecond)
	}

	var buf bytes.Buffer
	writeMetrics(&buf, w, sink, nil)
	out := buf.String()
	for _, want := range []string{
		"voxelgrid_world_tick ",
		`voxelgrid_chunks{state="MESHED"} 9`,
		`voxelgrid_chunks{state="QUEUED"} 0`,
		`voxelgrid_geometry{metric="render_handles"} 9`,
		`voxelgrid_lifecycle_total{event="generated"} 9`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "voxelgrid_index_") {
		t.Fatalf("index metrics written without an index")
	}
}

func TestOpenRuntimeIndex(t *testing.T) {
	idx, err := openRuntimeIndex(t.TempDir(), true)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("VG_INDEX_BACKEND", "none")
	idx, err = openRuntimeIndex(t.TempDir(), false)
	if err != nil || idx != nil {
		t.Fatalf("none: idx=%v err=%v", idx, err)
	}

	t.Setenv("VG_INDEX_BACKEND", "leveldb")
	if _, err := openRuntimeIndex(t.TempDir(), false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}

	t.Setenv("VG_INDEX_BACKEND", "")
	idx, err = openRuntimeIndex(t.TempDir(), false)
	if err != nil || idx == nil {
		t.Fatalf("sqlite: idx=%v err=%v", idx, err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
