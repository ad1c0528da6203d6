package chunk

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.io/internal/sim/world/logic/mathx"
)

// Coord identifies a chunk in the chunk grid.
type Coord struct {
	X, Y, Z int
}

func (c Coord) Add(o Coord) Coord {
	return Coord{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

func (c Coord) Sub(o Coord) Coord {
	return Coord{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z}
}

// Less orders coordinates lexicographically by X, then Y, then Z.
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

// DistSq is the squared Euclidean distance in chunk units.
func (c Coord) DistSq(o Coord) int {
	dx := c.X - o.X
	dy := c.Y - o.Y
	dz := c.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Origin is the world-space position of the chunk's minimum corner.
func (c Coord) Origin(edge int) mgl32.Vec3 {
	return mgl32.Vec3{float32(c.X * edge), float32(c.Y * edge), float32(c.Z * edge)}
}

// CoordOf returns the chunk containing a world-space position.
func CoordOf(pos mgl32.Vec3, edge int) Coord {
	return Coord{
		X: mathx.FloorDiv(mathx.FloorToInt(pos.X()), edge),
		Y: mathx.FloorDiv(mathx.FloorToInt(pos.Y()), edge),
		Z: mathx.FloorDiv(mathx.FloorToInt(pos.Z()), edge),
	}
}

// SortCoords sorts in place by Less.
func SortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j]) })
}
