package gen

import (
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/terrain/noise"
	"voxelgrid.io/internal/sim/world/logic/mathx"
)

// Sampler is the density field used to fill chunks.
type Sampler interface {
	Sample(x, y, z float64) float64
}

// Generator turns a density field into voxels. It holds no mutable state and
// can be shared by all workers.
type Generator struct {
	Noise Sampler

	// Amplitude scales the heat bands; it matches noise.Params.Amplitude.
	Amplitude float64
	// Threshold is the density above which a voxel is solid.
	Threshold float64
	// HeightFalloff subtracts density per block above SurfaceLevel.
	HeightFalloff float64
	SurfaceLevel  float64
}

func New(n *noise.Generator, threshold, heightFalloff, surfaceLevel float64) *Generator {
	return &Generator{
		Noise:         n,
		Amplitude:     n.Params().Amplitude,
		Threshold:     threshold,
		HeightFalloff: heightFalloff,
		SurfaceLevel:  surfaceLevel,
	}
}

// Density is the thresholded field at a world voxel.
func (g *Generator) Density(wx, wy, wz int) float64 {
	d := g.Noise.Sample(float64(wx), float64(wy), float64(wz))
	return d - (float64(wy)-g.SurfaceLevel)*g.HeightFalloff
}

// VoxelAt decides the material of a single world voxel.
func (g *Generator) VoxelAt(wx, wy, wz int) chunk.Voxel {
	d := g.Density(wx, wy, wz)
	if d <= g.Threshold {
		return chunk.Air
	}
	amp := g.Amplitude
	if amp <= 0 {
		amp = 1
	}
	heat := mathx.Clamp01((d - g.Threshold) / amp)
	switch {
	case heat < 0.15:
		return chunk.Grass
	case heat < 0.4:
		return chunk.Dirt
	default:
		return chunk.Stone
	}
}

// Fill samples every voxel of ch at its world position.
func (g *Generator) Fill(ch *chunk.Chunk) {
	n := ch.Edge
	ox, oy, oz := ch.Coord.X*n, ch.Coord.Y*n, ch.Coord.Z*n
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				ch.Voxels[ch.Index(x, y, z)] = g.VoxelAt(ox+x, oy+y, oz+z)
			}
		}
	}
}
