// Package router is the query surface over a graph file used by path
// search: vertex lookup, outbound edge enumeration and nearest-vertex
// snapping. Returned vertices and edges are pooled; release them when done.
package router

import (
	"hh_router/pkg/block"
	"hh_router/pkg/pool"
	"hh_router/pkg/store"
)

// ErrNotFound is returned by NearestVertex when no vertex lies within the
// search radius. Widening the radius is up to the caller.
var ErrNotFound = store.ErrNotFound

// Stats combines store counters with pool occupancy.
type Stats struct {
	Store            store.Stats `json:"store"`
	VerticesBorrowed int         `json:"vertices_borrowed"`
	EdgesBorrowed    int         `json:"edges_borrowed"`
}

// Router owns one store and the pools of its views. It is not safe for
// concurrent use; open one Router per concurrent query.
type Router struct {
	store    *store.Store
	vertices *pool.Pool[block.Vertex]
	edges    *pool.Pool[block.Edge]
}

// New wraps an open store. The router takes ownership of s.
func New(s *store.Store) *Router {
	return &Router{
		store:    s,
		vertices: pool.New[block.Vertex](),
		edges:    pool.New[block.Edge](),
	}
}

// Open opens the graph file at path.
func Open(path string, cfg store.Config) (*Router, error) {
	s, err := store.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}

// Store returns the underlying store.
func (r *Router) Store() *store.Store { return r.store }

// Vertex returns vertex id.
func (r *Router) Vertex(id block.VertexID) (pool.Ref[block.Vertex], error) {
	ref := r.vertices.Borrow()
	if err := r.store.Vertex(id, ref.MustGet()); err != nil {
		ref.Release()
		return pool.Ref[block.Vertex]{}, err
	}
	return ref, nil
}

// OutboundEdge returns outbound edge i of v.
func (r *Router) OutboundEdge(v *block.Vertex, i uint32) (pool.Ref[block.Edge], error) {
	ref := r.edges.Borrow()
	if err := r.store.OutboundEdge(v, i, ref.MustGet()); err != nil {
		ref.Release()
		return pool.Ref[block.Edge]{}, err
	}
	return ref, nil
}

// NearestVertex returns the level-0 vertex closest to (lat, lon) within
// radiusMeters.
func (r *Router) NearestVertex(lat, lon, radiusMeters float64) (pool.Ref[block.Vertex], error) {
	ref := r.vertices.Borrow()
	if err := r.store.NearestVertex(lat, lon, radiusMeters, ref.MustGet()); err != nil {
		ref.Release()
		return pool.Ref[block.Vertex]{}, err
	}
	return ref, nil
}

// ReleaseVertex returns a vertex to the pool.
func (r *Router) ReleaseVertex(ref pool.Ref[block.Vertex]) error { return ref.Release() }

// ReleaseEdge returns an edge to the pool.
func (r *Router) ReleaseEdge(ref pool.Ref[block.Edge]) error { return ref.Release() }

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Store:            r.store.Stats(),
		VerticesBorrowed: r.vertices.NumBorrowed(),
		EdgesBorrowed:    r.edges.NumBorrowed(),
	}
}

// Close closes the store. Outstanding references stay readable until
// released but must not be passed back to the router.
func (r *Router) Close() error {
	return r.store.Close()
}
