package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/mesh"
	"voxelgrid.io/internal/sim/render"
	"voxelgrid.io/internal/sim/world/logic/mathx"
)

var (
	ErrInvalidTransition = errors.New("invalid chunk state transition")
	ErrDuplicate         = errors.New("chunk already registered")
	ErrNotFound          = errors.New("chunk not registered")
)

// Entry is the registry's view of one chunk. Chunk and Mesh are immutable
// once attached.
type Entry struct {
	Coord  chunk.Coord
	State  chunk.State
	Chunk  *chunk.Chunk
	Mesh   *mesh.Mesh
	Handle render.Handle
}

// Reader is the read-only surface used by discovery, frustum filtering and
// inspection.
type Reader interface {
	Get(c chunk.Coord) (Entry, bool)
	Contains(c chunk.Coord) bool
	Snapshot() []Entry
}

// Registry maps chunk coordinates to lifecycle state. Coordinates are striped
// over independently locked shards so unrelated chunks never share a writer lock.
type Registry struct {
	shards []shard
	mask   uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[chunk.Coord]*Entry
}

const DefaultShards = 64

// New creates a registry with n shards rounded up to a power of two.
func New(n int) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	r := &Registry{
		shards: make([]shard, size),
		mask:   uint64(size - 1),
	}
	for i := range r.shards {
		r.shards[i].entries = map[chunk.Coord]*Entry{}
	}
	return r
}

func (r *Registry) shardFor(c chunk.Coord) *shard {
	return &r.shards[mathx.Hash3(0, c.X, c.Y, c.Z)&r.mask]
}

func (r *Registry) Get(c chunk.Coord) (Entry, bool) {
	s := r.shardFor(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[c]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) Contains(c chunk.Coord) bool {
	s := r.shardFor(c)
	s.mu.RLock()
	_, ok := s.entries[c]
	s.mu.RUnlock()
	return ok
}

// Insert registers a new coordinate in the given state.
func (r *Registry) Insert(c chunk.Coord, st chunk.State) error {
	s := r.shardFor(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[c]; ok {
		return fmt.Errorf("%w: %s is %s", ErrDuplicate, c, e.State)
	}
	s.entries[c] = &Entry{Coord: c, State: st}
	return nil
}

func (r *Registry) Remove(c chunk.Coord) (Entry, bool) {
	s := r.shardFor(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[c]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, c)
	return *e, true
}

// Transition moves c to state to, returning the previous state. The entry is
// left untouched when the move is not allowed by the lifecycle.
func (r *Registry) Transition(c chunk.Coord, to chunk.State) (chunk.State, error) {
	s := r.shardFor(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[c]
	if !ok {
		return chunk.Unloaded, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	from := e.State
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, c, from, to)
	}
	e.State = to
	return from, nil
}

// Attach stores generation outputs and the render handle on an entry.
func (r *Registry) Attach(c chunk.Coord, ch *chunk.Chunk, m *mesh.Mesh, h render.Handle) error {
	s := r.shardFor(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[c]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	e.Chunk = ch
	e.Mesh = m
	e.Handle = h
	return nil
}

// Snapshot copies all entries ordered by coordinate.
func (r *Registry) Snapshot() []Entry {
	var out []Entry
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, *e)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coord.Less(out[j].Coord) })
	return out
}

func (r *Registry) Counts() map[chunk.State]int {
	out := make(map[chunk.State]int, len(chunk.States()))
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.entries {
			out[e.State]++
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Close drops every entry. The registry stays usable afterwards.
func (r *Registry) Close() {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		s.entries = map[chunk.Coord]*Entry{}
		s.mu.Unlock()
	}
}
