package mesh

import "voxelgrid.io/internal/sim/chunk"

// Mask holds one byte per voxel; bit 1<<Face is set when that face is exposed.
type Mask []uint8

func (m Mask) Has(i int, f Face) bool {
	return m[i]&(1<<f) != 0
}

// Count returns the number of exposed faces.
func (m Mask) Count() int {
	n := 0
	for _, b := range m {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

// Cull marks every face of a solid voxel whose neighbour is empty or lies
// outside the chunk. Neighbouring chunks are not consulted, so faces on the
// chunk seam are always exposed.
func Cull(ch *chunk.Chunk) Mask {
	m := make(Mask, len(ch.Voxels))
	n := ch.Edge
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				i := ch.Index(x, y, z)
				if !ch.Voxels[i].Solid() {
					continue
				}
				var bits uint8
				for f := Face(0); f < FaceCount; f++ {
					dx, dy, dz := f.Offset()
					nx, ny, nz := x+dx, y+dy, z+dz
					if !ch.InBounds(nx, ny, nz) || !ch.Voxels[ch.Index(nx, ny, nz)].Solid() {
						bits |= 1 << f
					}
				}
				m[i] = bits
			}
		}
	}
	return m
}

// Exposed marks all six faces of every solid voxel (occlusion disabled).
func Exposed(ch *chunk.Chunk) Mask {
	m := make(Mask, len(ch.Voxels))
	for i, v := range ch.Voxels {
		if v.Solid() {
			m[i] = 1<<FaceCount - 1
		}
	}
	return m
}
