package api

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"hh_router/pkg/block"
	"hh_router/pkg/config"
	"hh_router/pkg/geo"
	"hh_router/pkg/hherr"
	"hh_router/pkg/metrics"
	"hh_router/pkg/router"
	"hh_router/pkg/store"
)

// Handlers holds the HTTP handlers and the routers they share. Each
// request borrows one router for its whole duration.
type Handlers struct {
	routers  chan *router.Router
	total    int
	nearest  config.NearestConfig
	storeCfg store.Config
	info     store.Info
	started  time.Time
}

// NewHandlers takes ownership of routers, which must all read the same
// graph file. A router whose store fails is reopened with storeCfg.
func NewHandlers(routers []*router.Router, nearest config.NearestConfig, storeCfg store.Config) *Handlers {
	h := &Handlers{
		routers:  make(chan *router.Router, len(routers)),
		total:    len(routers),
		nearest:  nearest,
		storeCfg: storeCfg,
		started:  time.Now(),
	}
	for _, r := range routers {
		h.routers <- r
	}
	if len(routers) > 0 {
		h.info = routers[0].Store().Info()
	}
	return h
}

// Close closes every router. Call it after the server has shut down.
func (h *Handlers) Close() error {
	var errs []error
	for range h.total {
		r := <-h.routers
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// acquire borrows a router without waiting. It writes the error response
// and returns nil when none is free or the request already timed out.
func (h *Handlers) acquire(w http.ResponseWriter, r *http.Request) *router.Router {
	select {
	case rt := <-h.routers:
		if r.Context().Err() != nil {
			h.routers <- rt
			writeError(w, http.StatusServiceUnavailable, "request_timeout", "")
			return nil
		}
		metrics.RoutersInUse.Inc()
		return rt
	default:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "")
		return nil
	}
}

// release returns rt to the pool. A router whose store can no longer read
// is replaced by a fresh one; if reopening fails the closed router goes
// back and the next release retries.
func (h *Handlers) release(rt *router.Router) {
	metrics.RoutersInUse.Dec()
	if err := rt.Store().Err(); err != nil {
		log.Printf("Reopening %s: %v", h.info.Path, err)
		rt.Close()
		fresh, err := router.Open(h.info.Path, h.storeCfg)
		if err != nil {
			log.Printf("Reopen failed: %v", err)
		} else {
			rt = fresh
		}
	}
	h.routers <- rt
}

func parseFloatParam(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, errors.New("not a finite number")
	}
	return v, true, nil
}

// HandleNearest handles GET /api/v1/nearest?lat=&lng=&radius=.
func (h *Handlers) HandleNearest(w http.ResponseWriter, r *http.Request) {
	lat, okLat, errLat := parseFloatParam(r, "lat")
	lng, okLng, errLng := parseFloatParam(r, "lng")
	if !okLat || !okLng || errLat != nil || errLng != nil || validateCoord(lat, lng) != nil {
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "")
		return
	}
	radius, ok, err := parseFloatParam(r, "radius")
	if err != nil || (ok && (radius <= 0 || radius > h.nearest.MaxRadiusMeters)) {
		writeError(w, http.StatusBadRequest, "invalid_radius", "radius")
		return
	}
	if !ok {
		radius = h.nearest.DefaultRadiusMeters
	}

	rt := h.acquire(w, r)
	if rt == nil {
		return
	}
	defer h.release(rt)

	ref, err := rt.NearestVertex(lat, lng, radius)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_vertex_within_radius", "")
			return
		}
		writeStoreError(w, err)
		return
	}
	defer rt.ReleaseVertex(ref)
	v := ref.MustGet()

	writeJSON(w, NearestResponse{
		Vertex:         vertexJSON(v),
		DistanceMeters: geo.Haversine(lat, lng, geo.FromE6(v.Lat), geo.FromE6(v.Lon)),
	})
}

// HandleVertex handles GET /api/v1/vertices/{id}.
func (h *Handlers) HandleVertex(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_vertex_id", "id")
		return
	}

	rt := h.acquire(w, r)
	if rt == nil {
		return
	}
	defer h.release(rt)

	vref, err := rt.Vertex(block.VertexID(id))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer rt.ReleaseVertex(vref)
	v := vref.MustGet()

	resp := VertexResponse{Vertex: vertexJSON(v), Edges: make([]EdgeJSON, 0, v.NumOutbound())}
	for i := range v.NumOutbound() {
		eref, err := rt.OutboundEdge(v, i)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		e := eref.MustGet()
		resp.Edges = append(resp.Edges, EdgeJSON{
			Target:     uint32(e.Target),
			TargetZero: uint32(e.TargetZero),
			Weight:     e.Weight,
			Internal:   e.Internal,
			Shortcut:   e.Shortcut,
			Forward:    e.Forward,
			Backward:   e.Backward,
			Core:       e.Core,
		})
		rt.ReleaseEdge(eref)
	}
	writeJSON(w, resp)
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Graph:         h.info,
		Routers:       h.total,
		UptimeSeconds: time.Since(h.started).Seconds(),
	}

	var idle []*router.Router
drain:
	for {
		select {
		case rt := <-h.routers:
			idle = append(idle, rt)
		default:
			break drain
		}
	}
	for _, rt := range idle {
		st := rt.Stats().Store
		resp.BlockReads += st.BlockReads
		resp.BytesRead += st.BytesRead
		resp.CacheHits += st.Cache.Hits
		resp.CacheMisses += st.Cache.Misses
		resp.CacheBytes += st.Cache.Bytes
		h.routers <- rt
	}
	resp.RoutersSampled = len(idle)
	writeJSON(w, resp)
}

func vertexJSON(v *block.Vertex) VertexJSON {
	out := VertexJSON{
		ID:          uint32(v.ID),
		Level:       v.Level,
		Zero:        uint32(v.Zero),
		NumInternal: v.NumInternal,
		NumExternal: v.NumExternal,
	}
	if v.Below != block.NoVertex {
		below := uint32(v.Below)
		out.Below = &below
	}
	if v.Above != block.NoVertex {
		above := uint32(v.Above)
		out.Above = &above
	}
	if v.HasNeighborhood() {
		nh := v.Neighborhood
		out.Neighborhood = &nh
	}
	if v.Level == 0 {
		lat, lng := geo.FromE6(v.Lat), geo.FromE6(v.Lon)
		out.Lat, out.Lng = &lat, &lng
	}
	return out
}

func validateCoord(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hherr.ErrIO), errors.Is(err, store.ErrClosed):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "graph_unavailable", "")
	case errors.Is(err, hherr.ErrOutOfRange):
		writeError(w, http.StatusNotFound, "vertex_not_found", "")
	case errors.Is(err, hherr.ErrDecode), errors.Is(err, hherr.ErrFormat):
		writeError(w, http.StatusInternalServerError, "corrupt_graph", "")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Field: field})
}
