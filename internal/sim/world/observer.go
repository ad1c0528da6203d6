package world

import (
	"encoding/json"

	"voxelgrid.io/internal/inspectproto"
)

// ObserverJoinRequest registers a read-only inspection session that
// receives STATS messages on Out. All observer state is maintained by the
// world loop goroutine.
type ObserverJoinRequest struct {
	SessionID  string
	Out        chan []byte
	EveryTicks int
}

// ObserverSubscribeRequest updates an existing session's stream rate.
type ObserverSubscribeRequest struct {
	SessionID  string
	EveryTicks int
}

type observerClient struct {
	id         string
	out        chan []byte
	everyTicks uint64
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	w.observers[req.SessionID] = &observerClient{
		id:         req.SessionID,
		out:        req.Out,
		everyTicks: everyTicks(req.EveryTicks),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.everyTicks = everyTicks(req.EveryTicks)
}

func (w *World) handleObserverLeave(id string) {
	delete(w.observers, id)
}

func everyTicks(n int) uint64 {
	if n <= 0 {
		return 1
	}
	return uint64(n)
}

func (w *World) broadcastStats(tick uint64, st inspectproto.Stats) {
	var b []byte
	for _, c := range w.observers {
		if tick%c.everyTicks != 0 {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(inspectproto.StatsMsg{
				Type:            "STATS",
				ProtocolVersion: inspectproto.Version,
				Stats:           st,
			})
			if err != nil {
				w.log.Printf("observer stats: %v", err)
				return
			}
		}
		sendLatest(c.out, b)
	}
}

// sendLatest never blocks: when the buffer is full the oldest message is
// replaced.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
