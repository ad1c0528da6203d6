package main

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/world"
)

// scriptedViewer stands in for a host camera: it walks along +X at a fixed
// altitude, looking down the walk direction.
type scriptedViewer struct {
	Speed    float32 // blocks per second
	Height   float32
	WithView bool
}

const (
	viewFovY   = 70
	viewAspect = 16.0 / 9.0
	viewNear   = 0.1
	viewFar    = 512
)

// At returns the viewer after elapsed time.
func (s scriptedViewer) At(elapsed time.Duration) world.Viewer {
	pos := mgl32.Vec3{s.Speed * float32(elapsed.Seconds()), s.Height, 0}
	v := world.Viewer{Pos: pos}
	if !s.WithView {
		return v
	}
	target := pos.Add(mgl32.Vec3{1, -0.25, 0})
	proj := mgl32.Perspective(mgl32.DegToRad(viewFovY), viewAspect, viewNear, viewFar)
	view := mgl32.LookAtV(pos, target, mgl32.Vec3{0, 1, 0})
	v.ViewProj = proj.Mul4(view)
	v.HasView = true
	return v
}

// Run publishes a viewer every interval until ctx is done. A full channel
// drops the update; the next one supersedes it.
func (s scriptedViewer) Run(ctx context.Context, out chan<- world.Viewer, interval time.Duration) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			select {
			case out <- s.At(now.Sub(start)):
			default:
			}
		}
	}
}
