// Package graph holds the road graph in CSR form and the helpers that
// prepare it for hierarchy construction.
package graph

// Edge is a directed, weighted edge between dense node indices.
type Edge struct {
	From, To uint32
	Weight   uint32
}

// Graph represents a directed graph in CSR (Compressed Sparse Row) format.
type Graph struct {
	NumNodes uint32
	NumEdges uint32
	FirstOut []uint32 // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are edges from node i
	Head     []uint32 // len: NumEdges; target node for each edge
	Weight   []uint32 // len: NumEdges; distance in millimeters
	Lat      []int32  // len: NumNodes; microdegrees
	Lon      []int32  // len: NumNodes; microdegrees
}

// EdgesFrom returns the range of edge indices for edges originating from node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// Edges returns every edge in CSR order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.NumEdges)
	for u := range g.NumNodes {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			out = append(out, Edge{From: u, To: g.Head[e], Weight: g.Weight[e]})
		}
	}
	return out
}
