package frustum

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/registry"
)

// Plane is n·p + D >= 0 for points on the inner side.
type Plane struct {
	N mgl32.Vec3
	D float32
}

func (p Plane) Distance(pt mgl32.Vec3) float32 {
	return p.N.Dot(pt) + p.D
}

// Frustum is six inward-facing planes: left, right, bottom, top, near, far.
type Frustum [6]Plane

// FromMatrix extracts the clip planes of an OpenGL-style view-projection
// matrix (clip space -w..w on every axis).
func FromMatrix(m mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	raw := [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	}
	var f Frustum
	for i, v := range raw {
		n := v.Vec3()
		l := n.Len()
		if l == 0 {
			l = 1
		}
		f[i] = Plane{N: n.Mul(1 / l), D: v.W() / l}
	}
	return f
}

// IntersectsAABB is conservative: a box straddling a frustum corner may be
// reported visible, but a visible box is never rejected. margin widens every
// plane to absorb rounding.
func (f Frustum) IntersectsAABB(min, max mgl32.Vec3, margin float32) bool {
	for _, p := range f {
		// Corner of the box furthest along the plane normal.
		v := min
		for a := 0; a < 3; a++ {
			if p.N[a] >= 0 {
				v[a] = max[a]
			}
		}
		if p.Distance(v)+margin < 0 {
			return false
		}
	}
	return true
}

func (f Frustum) ContainsPoint(pt mgl32.Vec3, margin float32) bool {
	for _, p := range f {
		if p.Distance(pt)+margin < 0 {
			return false
		}
	}
	return true
}

// Filter returns the Meshed chunks whose bounds touch the frustum, in
// coordinate order.
func Filter(f Frustum, reg registry.Reader, edge int, margin float32) []chunk.Coord {
	var out []chunk.Coord
	e := float32(edge)
	for _, entry := range reg.Snapshot() {
		if entry.State != chunk.Meshed {
			continue
		}
		min := entry.Coord.Origin(edge)
		max := min.Add(mgl32.Vec3{e, e, e})
		if f.IntersectsAABB(min, max, margin) {
			out = append(out, entry.Coord)
		}
	}
	return out
}
