package noise

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Params configure the fractal density field.
type Params struct {
	Seed        int64
	Frequency   float64
	Octaves     int
	Persistence float64
	Lacunarity  float64
	Amplitude   float64
}

func (p *Params) applyDefaults() {
	if p.Frequency <= 0 {
		p.Frequency = 0.02
	}
	if p.Octaves <= 0 {
		p.Octaves = 1
	}
	if p.Persistence <= 0 {
		p.Persistence = 0.5
	}
	if p.Lacunarity <= 0 {
		p.Lacunarity = 2
	}
	if p.Amplitude == 0 {
		p.Amplitude = 1
	}
}

// Generator samples seeded 3D OpenSimplex fBm. It is immutable and safe for
// concurrent use.
type Generator struct {
	params     Params
	octaves    []opensimplex.Noise
	amplitudes []float64
	norm       float64
}

func New(p Params) *Generator {
	p.applyDefaults()
	g := &Generator{params: p}
	amp := 1.0
	for i := 0; i < p.Octaves; i++ {
		// Each octave gets its own permutation so octaves don't line up.
		g.octaves = append(g.octaves, opensimplex.New(p.Seed+int64(i)*7919))
		g.amplitudes = append(g.amplitudes, amp)
		g.norm += amp
		amp *= p.Persistence
	}
	return g
}

func (g *Generator) Params() Params { return g.params }

// Sample returns the density at a world position, roughly in
// [-Amplitude, Amplitude].
func (g *Generator) Sample(x, y, z float64) float64 {
	freq := g.params.Frequency
	sum := 0.0
	for i, n := range g.octaves {
		sum += g.amplitudes[i] * n.Eval3(x*freq, y*freq, z*freq)
		freq *= g.params.Lacunarity
	}
	return g.params.Amplitude * sum / g.norm
}
