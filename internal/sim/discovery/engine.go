package discovery

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/registry"
	"voxelgrid.io/internal/sim/world/logic/mathx"
)

type Config struct {
	// Radius is the per-axis load radius in chunks (X, Y, Z).
	Radius [3]int
	// Hysteresis is added to every axis of Radius before a chunk unloads.
	Hysteresis int
	// ScanEvery throttles scans while the viewer stays in the same chunk.
	ScanEvery time.Duration
	Burst     int
}

func (c *Config) applyDefaults() {
	for i := range c.Radius {
		if c.Radius[i] < 0 {
			c.Radius[i] = 0
		}
	}
	if c.Hysteresis < 0 {
		c.Hysteresis = 0
	}
	if c.ScanEvery <= 0 {
		c.ScanEvery = 250 * time.Millisecond
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Plan is the result of one scan. Both lists are ordered nearest first.
type Plan struct {
	Viewer  chunk.Coord
	Loads   []chunk.Coord
	Unloads []chunk.Coord
}

func (p Plan) Empty() bool { return len(p.Loads) == 0 && len(p.Unloads) == 0 }

// Engine decides which chunks should exist around the viewer. It only reads
// the registry; applying a plan is the caller's job.
type Engine struct {
	cfg     Config
	limiter *rate.Limiter

	last    chunk.Coord
	scanned bool
}

func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.ScanEvery), cfg.Burst),
	}
}

// Due reports whether a scan should run now. Moving into another chunk
// always triggers one; otherwise scans are rate limited.
func (e *Engine) Due(now time.Time, viewer chunk.Coord) bool {
	if !e.scanned || viewer != e.last {
		e.scanned = true
		e.last = viewer
		e.limiter.AllowN(now, 1)
		return true
	}
	return e.limiter.AllowN(now, 1)
}

// InRange reports whether c lies inside the load box around viewer.
func (e *Engine) InRange(viewer, c chunk.Coord) bool {
	return within(c.Sub(viewer), e.cfg.Radius, 0)
}

// Retained reports whether a loaded chunk at c survives the unload check.
func (e *Engine) Retained(viewer, c chunk.Coord) bool {
	return within(c.Sub(viewer), e.cfg.Radius, e.cfg.Hysteresis)
}

func within(off chunk.Coord, r [3]int, extra int) bool {
	return mathx.AbsInt(off.X) <= r[0]+extra &&
		mathx.AbsInt(off.Y) <= r[1]+extra &&
		mathx.AbsInt(off.Z) <= r[2]+extra
}

// Plan scans the load box and the registry.
func (e *Engine) Plan(viewer chunk.Coord, reg registry.Reader) Plan {
	p := Plan{Viewer: viewer}
	r := e.cfg.Radius
	for dx := -r[0]; dx <= r[0]; dx++ {
		for dy := -r[1]; dy <= r[1]; dy++ {
			for dz := -r[2]; dz <= r[2]; dz++ {
				c := viewer.Add(chunk.Coord{X: dx, Y: dy, Z: dz})
				if reg.Contains(c) {
					continue
				}
				p.Loads = append(p.Loads, c)
			}
		}
	}
	for _, entry := range reg.Snapshot() {
		if entry.State == chunk.Unloading {
			continue
		}
		if !e.Retained(viewer, entry.Coord) {
			p.Unloads = append(p.Unloads, entry.Coord)
		}
	}
	SortByDistance(p.Loads, viewer)
	SortByDistance(p.Unloads, viewer)
	return p
}

// SortByDistance orders coords by ascending distance to viewer, ties broken
// lexicographically.
func SortByDistance(cs []chunk.Coord, viewer chunk.Coord) {
	sort.Slice(cs, func(i, j int) bool {
		di, dj := cs[i].DistSq(viewer), cs[j].DistSq(viewer)
		if di != dj {
			return di < dj
		}
		return cs[i].Less(cs[j])
	})
}
