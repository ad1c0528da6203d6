package inspect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/chunk"
	"voxelgrid.io/internal/sim/encoding"
	"voxelgrid.io/internal/sim/world"
)

// History is the optional read model behind the history endpoints.
type History interface {
	RecentStats(ctx context.Context, limit int) ([]inspectproto.Stats, error)
	ChunkHistory(ctx context.Context, x, y, z int) ([]world.LifecycleEvent, error)
}

type Server struct {
	world   *world.World
	history History
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, history History, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		world:   w,
		history: history,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

// Register mounts every inspection endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/inspect/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/inspect/chunk", s.ChunkHandler())
	mux.HandleFunc("/v1/inspect/history", s.HistoryHandler())
	mux.HandleFunc("/v1/inspect/ws", s.WSHandler())
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := inspectproto.BootstrapResponse{
			ProtocolVersion: inspectproto.Version,
			Tick:            s.world.CurrentTick(),
			WorldParams: inspectproto.WorldParams{
				TickRateHz:       cfg.TickRateHz,
				ChunkEdge:        cfg.ChunkEdge,
				DiscoveryRadius:  cfg.Radius,
				UnloadHysteresis: cfg.Hysteresis,
				Workers:          cfg.Workers,
				MaxInFlight:      cfg.MaxInFlight,
				Seed:             cfg.Noise.Seed,
				Threshold:        cfg.Threshold,
				OcclusionCulling: cfg.OcclusionCulling,
			},
			VoxelPalette: chunk.Palette(),
			Stats:        s.world.Stats(),
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) ChunkHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		c, err := parseCoord(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}

		resp := inspectproto.ChunkResponse{
			ProtocolVersion: inspectproto.Version,
			Coord:           [3]int{c.X, c.Y, c.Z},
			State:           chunk.Unloaded.String(),
		}
		if e, ok := s.world.Registry().Get(c); ok {
			resp.State = e.State.String()
			if e.Chunk != nil {
				d := e.Chunk.Digest()
				resp.Edge = e.Chunk.Edge
				resp.SolidVoxels = e.Chunk.SolidCount()
				resp.Digest = hex.EncodeToString(d[:])
				resp.Encoding = encoding.RLEName
				resp.Data = encoding.EncodeRLE(e.Chunk.Voxels)
			}
			if e.Mesh != nil {
				resp.Triangles = e.Mesh.Triangles()
			}
		}
		if r.URL.Query().Get("history") == "1" && s.history != nil {
			evs, err := s.history.ChunkHistory(r.Context(), c.X, c.Y, c.Z)
			if err != nil {
				s.log.Printf("inspect chunk history %s: %v", c, err)
			}
			for _, ev := range evs {
				resp.History = append(resp.History, inspectproto.Transition{
					Tick:      ev.Tick,
					From:      ev.From,
					To:        ev.To,
					Reason:    ev.Reason,
					ElapsedMS: ev.ElapsedMS,
				})
			}
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.history == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		stats, err := s.history.RecentStats(r.Context(), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, http.StatusOK, inspectproto.HistoryResponse{
			ProtocolVersion: inspectproto.Version,
			Stats:           stats,
		})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("I%d", s.nextID.Add(1))
		out := make(chan []byte, 4)

		joinReq := world.ObserverJoinRequest{
			SessionID:  sid,
			Out:        out,
			EveryTicks: sub.EveryTicks,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case s.world.ObserverSubscribe() <- world.ObserverSubscribeRequest{SessionID: sid, EveryTicks: sub.EveryTicks}:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (inspectproto.SubscribeMsg, bool) {
	var sub inspectproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != inspectproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *inspectproto.SubscribeMsg) {
	if sub.EveryTicks <= 0 {
		sub.EveryTicks = 1
	}
	if sub.EveryTicks > 10000 {
		sub.EveryTicks = 10000
	}
}

func parseCoord(r *http.Request) (chunk.Coord, error) {
	q := r.URL.Query()
	var v [3]int
	for i, k := range []string{"x", "y", "z"} {
		n, err := strconv.Atoi(strings.TrimSpace(q.Get(k)))
		if err != nil {
			return chunk.Coord{}, fmt.Errorf("bad %s: %q", k, q.Get(k))
		}
		v[i] = n
	}
	return chunk.Coord{X: v[0], Y: v[1], Z: v[2]}, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
