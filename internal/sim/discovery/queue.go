package discovery

import (
	"sort"

	"github.com/gammazero/deque"

	"voxelgrid.io/internal/sim/chunk"
)

type Action uint8

const (
	Load Action = iota + 1
	Unload
)

func (a Action) String() string {
	switch a {
	case Load:
		return "LOAD"
	case Unload:
		return "UNLOAD"
	default:
		return "NONE"
	}
}

type WorkItem struct {
	Coord  chunk.Coord
	Action Action
	Dist   int // squared chunk distance to the viewer when queued
}

// Queue holds pending work. Unloads always sit ahead of loads; loads are kept
// nearest first.
type Queue struct {
	items deque.Deque[WorkItem]
	loads map[chunk.Coord]struct{}
}

func NewQueue() *Queue {
	return &Queue{loads: map[chunk.Coord]struct{}{}}
}

func (q *Queue) Len() int { return q.items.Len() }

// PendingLoads counts queued load items.
func (q *Queue) PendingLoads() int { return len(q.loads) }

func (q *Queue) HasLoad(c chunk.Coord) bool {
	_, ok := q.loads[c]
	return ok
}

// PushPlan merges a scan result into the queue.
func (q *Queue) PushPlan(p Plan) {
	for i := len(p.Unloads) - 1; i >= 0; i-- {
		c := p.Unloads[i]
		q.items.PushFront(WorkItem{Coord: c, Action: Unload, Dist: c.DistSq(p.Viewer)})
	}
	var fresh []WorkItem
	for _, c := range p.Loads {
		if _, ok := q.loads[c]; ok {
			continue
		}
		q.loads[c] = struct{}{}
		fresh = append(fresh, WorkItem{Coord: c, Action: Load, Dist: c.DistSq(p.Viewer)})
	}
	if len(fresh) == 0 {
		return
	}
	q.rebuild(func(loads []WorkItem) []WorkItem {
		loads = append(loads, fresh...)
		sortItems(loads)
		return loads
	})
}

// Front returns the next item without removing it.
func (q *Queue) Front() (WorkItem, bool) {
	if q.items.Len() == 0 {
		return WorkItem{}, false
	}
	return q.items.Front(), true
}

func (q *Queue) Pop() (WorkItem, bool) {
	if q.items.Len() == 0 {
		return WorkItem{}, false
	}
	it := q.items.PopFront()
	if it.Action == Load {
		delete(q.loads, it.Coord)
	}
	return it, true
}

// Drop removes a pending load for c, if any.
func (q *Queue) Drop(c chunk.Coord) bool {
	if _, ok := q.loads[c]; !ok {
		return false
	}
	delete(q.loads, c)
	q.rebuild(func(loads []WorkItem) []WorkItem {
		out := loads[:0]
		for _, it := range loads {
			if it.Coord != c {
				out = append(out, it)
			}
		}
		return out
	})
	return true
}

// Reprioritise recomputes load distances for a new viewer chunk.
func (q *Queue) Reprioritise(viewer chunk.Coord) {
	q.rebuild(func(loads []WorkItem) []WorkItem {
		for i := range loads {
			loads[i].Dist = loads[i].Coord.DistSq(viewer)
		}
		sortItems(loads)
		return loads
	})
}

// rebuild drains the deque, lets fn rewrite the load section and pushes
// everything back with unloads first.
func (q *Queue) rebuild(fn func(loads []WorkItem) []WorkItem) {
	var unloads, loads []WorkItem
	for q.items.Len() > 0 {
		it := q.items.PopFront()
		if it.Action == Unload {
			unloads = append(unloads, it)
		} else {
			loads = append(loads, it)
		}
	}
	loads = fn(loads)
	for _, it := range unloads {
		q.items.PushBack(it)
	}
	for _, it := range loads {
		q.items.PushBack(it)
	}
}

func sortItems(items []WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Dist != items[j].Dist {
			return items[i].Dist < items[j].Dist
		}
		return items[i].Coord.Less(items[j].Coord)
	})
}
