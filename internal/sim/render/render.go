package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/mesh"
)

// Handle identifies a renderable registered with the host engine.
type Handle = uuid.UUID

var ErrUnknownHandle = errors.New("unknown render handle")

// Sink is the host rendering collaborator. Implementations must be safe to
// call from the coordination goroutine while other goroutines read them.
type Sink interface {
	Register(c chunk.Coord, m *mesh.Mesh, transform mgl32.Mat4) (Handle, error)
	Remove(h Handle) error
}

// Renderable is what MemorySink keeps per handle.
type Renderable struct {
	Coord     chunk.Coord
	Mesh      *mesh.Mesh
	Transform mgl32.Mat4
}

// MemorySink keeps renderables in memory. Used by the headless server and tests.
type MemorySink struct {
	mu      sync.RWMutex
	items   map[Handle]Renderable
	added   uint64
	removed uint64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{items: map[Handle]Renderable{}}
}

func (s *MemorySink) Register(c chunk.Coord, m *mesh.Mesh, transform mgl32.Mat4) (Handle, error) {
	h := uuid.New()
	s.mu.Lock()
	s.items[h] = Renderable{Coord: c, Mesh: m, Transform: transform}
	s.added++
	s.mu.Unlock()
	return h, nil
}

func (s *MemorySink) Remove(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[h]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	delete(s.items, h)
	s.removed++
	return nil
}

func (s *MemorySink) Get(h Handle) (Renderable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[h]
	return r, ok
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Totals returns how many renderables were ever registered and removed.
func (s *MemorySink) Totals() (added, removed uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.added, s.removed
}

// Transform places chunk-local mesh vertices at the chunk origin.
func Transform(c chunk.Coord, edge int) mgl32.Mat4 {
	o := c.Origin(edge)
	return mgl32.Translate3D(o.X(), o.Y(), o.Z())
}
