package world

import (
	"time"

	"voxelgrid.io/internal/sim/terrain/noise"
	"voxelgrid.io/internal/sim/tuning"
)

// ConfigFromTuning maps the file-level tuning onto a world config.
func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickRateHz:        t.TickRateHz,
		ChunkEdge:         t.ChunkEdge,
		Radius:            t.DiscoveryRadius,
		Hysteresis:        t.UnloadHysteresis,
		ScanEvery:         time.Duration(t.ScanEveryMs) * time.Millisecond,
		Workers:           t.Workers,
		MaxInFlight:       t.MaxInFlight,
		MaxAppliesPerTick: t.MaxAppliesPerTick,
		OcclusionCulling:  t.OcclusionCulling,
		FrustumMargin:     float32(t.FrustumMargin),
		StatsEveryTicks:   t.StatsEveryTicks,
		RegistryShards:    t.RegistryShards,
		Noise: noise.Params{
			Seed:        t.Noise.Seed,
			Frequency:   t.Noise.Frequency,
			Octaves:     t.Noise.Octaves,
			Persistence: t.Noise.Persistence,
			Lacunarity:  t.Noise.Lacunarity,
			Amplitude:   t.Noise.Amplitude,
		},
		Threshold:     t.Terrain.Threshold,
		HeightFalloff: t.Terrain.HeightFalloff,
		SurfaceLevel:  t.Terrain.SurfaceLevel,
	}
}
