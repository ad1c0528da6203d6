package world

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/terrain/gen"
	"voxelgrid.io/internal/sim/terrain/noise"
)

// ErrStaleResult marks a generation result for a chunk that was unloaded or
// re-dispatched while the task ran.
var ErrStaleResult = errors.New("stale generation result")

// Viewer is the tracked camera, read once per tick.
type Viewer struct {
	Pos mgl32.Vec3
	// ViewProj is only used when HasView is set.
	ViewProj mgl32.Mat4
	HasView  bool
}

type Config struct {
	TickRateHz int
	ChunkEdge  int

	Radius     [3]int
	Hysteresis int
	ScanEvery  time.Duration

	Workers           int
	MaxInFlight       int
	MaxAppliesPerTick int
	OcclusionCulling  bool

	FrustumMargin   float32
	StatsEveryTicks int
	RegistryShards  int

	Noise         noise.Params
	Threshold     float64
	HeightFalloff float64
	SurfaceLevel  float64

	// Sampler replaces the noise field when set.
	Sampler gen.Sampler
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ChunkEdge <= 0 {
		c.ChunkEdge = 16
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.MaxAppliesPerTick <= 0 {
		c.MaxAppliesPerTick = 8
	}
	if c.StatsEveryTicks <= 0 {
		c.StatsEveryTicks = 20
	}
}

// LifecycleEvent records one chunk state transition.
type LifecycleEvent struct {
	Tick      uint64  `json:"tick"`
	Coord     [3]int  `json:"coord"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Reason    string  `json:"reason,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`
}

// Optional sinks (may be nil). Implemented in internal/persistence/*.
type LifecycleLogger interface {
	WriteEvent(ev LifecycleEvent) error
}

type StatsLogger interface {
	WriteStats(st inspectproto.Stats) error
}
