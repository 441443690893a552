package api

import "hh_router/pkg/store"

// VertexJSON is a decoded vertex. Cross-level ids are omitted when the
// vertex has no counterpart on that level.
type VertexJSON struct {
	ID           uint32   `json:"id"`
	Level        uint8    `json:"level"`
	Below        *uint32  `json:"below,omitempty"`
	Above        *uint32  `json:"above,omitempty"`
	Zero         uint32   `json:"zero"`
	Neighborhood *uint32  `json:"neighborhood,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	NumInternal  uint32   `json:"num_internal_edges"`
	NumExternal  uint32   `json:"num_external_edges"`
}

// EdgeJSON is a decoded outbound edge.
type EdgeJSON struct {
	Target     uint32 `json:"target"`
	TargetZero uint32 `json:"target_zero"`
	Weight     uint32 `json:"weight"`
	Internal   bool   `json:"internal"`
	Shortcut   bool   `json:"shortcut"`
	Forward    bool   `json:"forward"`
	Backward   bool   `json:"backward"`
	Core       bool   `json:"core"`
}

// NearestResponse is the JSON response for GET /api/v1/nearest.
type NearestResponse struct {
	Vertex         VertexJSON `json:"vertex"`
	DistanceMeters float64    `json:"distance_meters"`
}

// VertexResponse is the JSON response for GET /api/v1/vertices/{id}.
type VertexResponse struct {
	Vertex VertexJSON `json:"vertex"`
	Edges  []EdgeJSON `json:"edges"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats. Counters are
// summed over the routers idle at the time of the request.
type StatsResponse struct {
	Graph          store.Info `json:"graph"`
	Routers        int        `json:"routers"`
	RoutersSampled int        `json:"routers_sampled"`
	BlockReads     uint64     `json:"block_reads"`
	BytesRead      uint64     `json:"bytes_read"`
	CacheHits      uint64     `json:"cache_hits"`
	CacheMisses    uint64     `json:"cache_misses"`
	CacheBytes     int64      `json:"cache_bytes"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
