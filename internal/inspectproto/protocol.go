package inspectproto

// Version is the inspection protocol version.
const Version = "0.1"

// Client -> Server. First message on the inspection WS connection, and can be
// re-sent to change the stream rate.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryTicks sends one STATS message per this many ticks.
	EveryTicks int `json:"every_ticks"`
}

// HTTP response for GET /v1/inspect/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	VoxelPalette    []string    `json:"voxel_palette"`
	Stats           Stats       `json:"stats"`
}

type WorldParams struct {
	TickRateHz       int     `json:"tick_rate_hz"`
	ChunkEdge        int     `json:"chunk_edge"`
	DiscoveryRadius  [3]int  `json:"discovery_radius"`
	UnloadHysteresis int     `json:"unload_hysteresis"`
	Workers          int     `json:"workers"`
	MaxInFlight      int     `json:"max_in_flight"`
	Seed             int64   `json:"seed"`
	Threshold        float64 `json:"threshold"`
	OcclusionCulling bool    `json:"occlusion_culling"`
}

// Stats is a per-tick snapshot of the chunk pipeline.
type Stats struct {
	Tick   uint64         `json:"tick"`
	Viewer [3]int         `json:"viewer"`
	States map[string]int `json:"states"`

	Loaded        int `json:"loaded"`
	SolidVoxels   int `json:"solid_voxels"`
	Triangles     int `json:"triangles"`
	Visible       int `json:"visible"`
	QueueDepth    int `json:"queue_depth"`
	PendingLoads  int `json:"pending_loads"`
	InFlight      int `json:"in_flight"`
	AppliedOnTick int `json:"applied_on_tick"`

	GeneratedTotal uint64 `json:"generated_total"`
	UnloadedTotal  uint64 `json:"unloaded_total"`
	StaleTotal     uint64 `json:"stale_total"`
	FailedTotal    uint64 `json:"failed_total"`
	DuplicateTotal uint64 `json:"duplicate_total"`
}

// Server -> Client.
type StatsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Stats
}

// HTTP response for GET /v1/inspect/chunk.
// Encoding "RLE_UVARINT_B64" means base64 of uvarint pairs (voxel id, run
// length) over the flat voxel array, x fastest, then y, then z.
type ChunkResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Coord           [3]int `json:"coord"`
	State           string `json:"state"`
	Edge            int    `json:"edge,omitempty"`
	SolidVoxels     int    `json:"solid_voxels,omitempty"`
	Triangles       int    `json:"triangles,omitempty"`
	Digest          string `json:"digest,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
	Data            string `json:"data,omitempty"`

	History []Transition `json:"history,omitempty"`
}

// Transition is one recorded lifecycle step of a chunk.
type Transition struct {
	Tick      uint64  `json:"tick"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Reason    string  `json:"reason,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`
}

// HTTP response for GET /v1/inspect/history.
type HistoryResponse struct {
	ProtocolVersion string  `json:"protocol_version"`
	Stats           []Stats `json:"stats"`
}
