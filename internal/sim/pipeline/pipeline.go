package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/mesh"
	"voxelgrid.io/internal/sim/terrain/gen"
)

var (
	ErrAllocationFailure = errors.New("chunk task allocation failure")
	ErrClosed            = errors.New("pipeline closed")
)

type Config struct {
	Workers int
	// QueueSize caps submitted-but-unstarted tasks and sizes the result channel.
	QueueSize        int
	OcclusionCulling bool
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Request is the immutable input of one chunk task.
type Request struct {
	Coord chunk.Coord
	Edge  int
	Tick  uint64
	// Ticket is echoed back on the result so the caller can tell a
	// superseded task from the current one.
	Ticket uint64
}

// Result is the owned output of one chunk task. Chunk, Mask and Mesh are nil
// when Err is set.
type Result struct {
	Coord   chunk.Coord
	Tick    uint64
	Ticket  uint64
	Chunk   *chunk.Chunk
	Mask    mesh.Mask
	Mesh    *mesh.Mesh
	Err     error
	Elapsed time.Duration
}

// Pipeline runs generate → cull → mesh for one chunk per task on a fixed
// worker pool and delivers results on a single channel.
type Pipeline struct {
	cfg Config
	gen *gen.Generator
	log *log.Logger

	pool    pond.Pool
	results chan Result

	mu       sync.Mutex
	closed   bool
	inFlight atomic.Int64
}

func New(cfg Config, g *gen.Generator, logger *log.Logger) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		cfg:     cfg,
		gen:     g,
		log:     logger,
		pool:    pond.NewPool(cfg.Workers),
		results: make(chan Result, cfg.QueueSize),
	}
}

// Results is drained by the coordination loop only.
func (p *Pipeline) Results() <-chan Result { return p.results }

// InFlight counts submitted tasks whose result has not been received yet.
func (p *Pipeline) InFlight() int { return int(p.inFlight.Load()) }

// Capacity is the largest number of tasks that may be in flight at once
// without a worker blocking on the result channel.
func (p *Pipeline) Capacity() int { return p.cfg.QueueSize }

// Submit schedules a chunk task. It never blocks on the pool.
func (p *Pipeline) Submit(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.inFlight.Add(1)
	p.pool.Submit(func() {
		p.results <- p.run(req)
	})
	return nil
}

// Ack marks one received result as consumed.
func (p *Pipeline) Ack() {
	p.inFlight.Add(-1)
}

func (p *Pipeline) run(req Request) (res Result) {
	start := time.Now()
	res = Result{Coord: req.Coord, Tick: req.Tick, Ticket: req.Ticket}
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Coord:  req.Coord,
				Tick:   req.Tick,
				Ticket: req.Ticket,
				Err:    fmt.Errorf("%w: %s: %v", ErrAllocationFailure, req.Coord, r),
			}
		}
		res.Elapsed = time.Since(start)
	}()

	ch, err := chunk.New(req.Coord, req.Edge)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrAllocationFailure, err)
		return res
	}
	p.gen.Fill(ch)
	var mask mesh.Mask
	if p.cfg.OcclusionCulling {
		mask = mesh.Cull(ch)
	} else {
		mask = mesh.Exposed(ch)
	}
	ch.Seal()
	res.Chunk = ch
	res.Mask = mask
	res.Mesh = mesh.Build(ch, mask)
	return res
}

// Close stops accepting work and waits for running tasks. Undelivered
// results are discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.pool.StopAndWait()
		close(done)
	}()
	// Workers block on a full result channel; drain so StopAndWait can finish.
	for {
		select {
		case <-done:
			return
		case <-p.results:
			p.Ack()
		}
	}
}
