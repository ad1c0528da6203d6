package chunk

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Voxel is a material id. Air is empty.
type Voxel uint8

const (
	Air Voxel = iota
	Stone
	Dirt
	Grass
)

func (v Voxel) Solid() bool { return v != Air }

var voxelNames = [...]string{
	Air:   "AIR",
	Stone: "STONE",
	Dirt:  "DIRT",
	Grass: "GRASS",
}

func (v Voxel) String() string {
	if int(v) < len(voxelNames) {
		return voxelNames[v]
	}
	return fmt.Sprintf("VOXEL_%d", uint8(v))
}

// Palette lists voxel names indexed by id.
func Palette() []string {
	return append([]string(nil), voxelNames[:]...)
}

// MaxEdge bounds chunk allocations (MaxEdge^3 voxels).
const MaxEdge = 256

var ErrAllocation = errors.New("chunk allocation failed")

// Chunk is an N×N×N block of voxels stored x-fastest.
type Chunk struct {
	Coord  Coord
	Edge   int
	Voxels []Voxel // len = Edge^3

	dirty bool
	hash  [32]byte
}

func New(c Coord, edge int) (*Chunk, error) {
	if edge <= 0 || edge > MaxEdge {
		return nil, fmt.Errorf("%w: edge %d outside [1,%d]", ErrAllocation, edge, MaxEdge)
	}
	return &Chunk{
		Coord:  c,
		Edge:   edge,
		Voxels: make([]Voxel, edge*edge*edge),
		dirty:  true,
	}, nil
}

func (c *Chunk) Index(x, y, z int) int {
	return x + y*c.Edge + z*c.Edge*c.Edge
}

// Local inverts Index.
func (c *Chunk) Local(i int) (x, y, z int) {
	n := c.Edge
	return i % n, (i / n) % n, i / (n * n)
}

func (c *Chunk) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.Edge && y < c.Edge && z < c.Edge
}

// Get returns Air outside the chunk.
func (c *Chunk) Get(x, y, z int) Voxel {
	if !c.InBounds(x, y, z) {
		return Air
	}
	return c.Voxels[c.Index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, v Voxel) {
	if !c.InBounds(x, y, z) {
		return
	}
	i := c.Index(x, y, z)
	if c.Voxels[i] == v {
		return
	}
	c.Voxels[i] = v
	c.dirty = true
}

func (c *Chunk) Solid(x, y, z int) bool {
	return c.Get(x, y, z).Solid()
}

func (c *Chunk) SolidCount() int {
	n := 0
	for _, v := range c.Voxels {
		if v.Solid() {
			n++
		}
	}
	return n
}

func (c *Chunk) Origin() mgl32.Vec3 {
	return c.Coord.Origin(c.Edge)
}

// Bounds is the world-space AABB of the chunk.
func (c *Chunk) Bounds() (min, max mgl32.Vec3) {
	min = c.Origin()
	e := float32(c.Edge)
	return min, min.Add(mgl32.Vec3{e, e, e})
}

// Seal computes the digest ahead of publication. A sealed chunk that is not
// mutated again can be read, Digest included, from any goroutine.
func (c *Chunk) Seal() {
	c.Digest()
}

// Digest hashes the voxel contents; recomputed only after mutation.
func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		b := make([]byte, len(c.Voxels))
		for i, v := range c.Voxels {
			b[i] = byte(v)
		}
		c.hash = sha256.Sum256(b)
		c.dirty = false
	}
	return c.hash
}
