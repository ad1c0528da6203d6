package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/chunk"
)

// Mesh is an indexed triangle list in chunk-local space. It must not be
// modified after Build returns it.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

func (m *Mesh) Quads() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 6
}

func (m *Mesh) Triangles() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

func (m *Mesh) Empty() bool {
	return m == nil || len(m.Indices) == 0
}

// Bounds returns the local AABB of all vertices; zero vectors for an empty mesh.
func (m *Mesh) Bounds() (min, max mgl32.Vec3) {
	if m == nil || len(m.Positions) == 0 {
		return
	}
	min, max = m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for a := 0; a < 3; a++ {
			if p[a] < min[a] {
				min[a] = p[a]
			}
			if p[a] > max[a] {
				max[a] = p[a]
			}
		}
	}
	return
}

var quadUVs = [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// Build emits one quad per exposed face, scanning x, then y, then z ascending
// so the same chunk and mask always produce the same vertex order.
func Build(ch *chunk.Chunk, mask Mask) *Mesh {
	faces := mask.Count()
	m := &Mesh{
		Positions: make([]mgl32.Vec3, 0, faces*4),
		Normals:   make([]mgl32.Vec3, 0, faces*4),
		UVs:       make([]mgl32.Vec2, 0, faces*4),
		Indices:   make([]uint32, 0, faces*6),
	}
	n := ch.Edge
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				i := ch.Index(x, y, z)
				if mask[i] == 0 || !ch.Voxels[i].Solid() {
					continue
				}
				origin := mgl32.Vec3{float32(x), float32(y), float32(z)}
				for f := Face(0); f < FaceCount; f++ {
					if mask.Has(i, f) {
						m.appendQuad(origin, f)
					}
				}
			}
		}
	}
	return m
}

func (m *Mesh) appendQuad(origin mgl32.Vec3, f Face) {
	base, u, v := f.quad()
	p0 := origin.Add(base)
	start := uint32(len(m.Positions))
	normal := f.Normal()
	m.Positions = append(m.Positions, p0, p0.Add(u), p0.Add(u).Add(v), p0.Add(v))
	for k := 0; k < 4; k++ {
		m.Normals = append(m.Normals, normal)
		m.UVs = append(m.UVs, quadUVs[k])
	}
	m.Indices = append(m.Indices, start, start+1, start+2, start, start+2, start+3)
}
