package graph

import (
	"cmp"
	"slices"

	"github.com/paulmach/osm"

	osmparser "hh_router/pkg/osm"
)

// Build creates a CSR Graph from parsed OSM edges. Node indices follow the
// first appearance of each OSM node in the edge list.
func Build(result *osmparser.ParseResult) *Graph {
	if len(result.Edges) == 0 {
		return &Graph{}
	}

	index := make(map[osm.NodeID]uint32)
	var lat, lon []int32
	addNode := func(id osm.NodeID) uint32 {
		if idx, ok := index[id]; ok {
			return idx
		}
		idx := uint32(len(lat))
		index[id] = idx
		c := result.Nodes[id]
		lat = append(lat, c.Lat)
		lon = append(lon, c.Lon)
		return idx
	}

	edges := make([]Edge, len(result.Edges))
	for i, e := range result.Edges {
		edges[i] = Edge{From: addNode(e.From), To: addNode(e.To), Weight: e.Weight}
	}
	return FromEdges(lat, lon, edges)
}

// FromEdges builds a CSR graph over len(lat) nodes. Self loops are dropped
// and parallel edges keep the smallest weight.
func FromEdges(lat, lon []int32, edges []Edge) *Graph {
	numNodes := uint32(len(lat))

	compact := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.From != e.To {
			compact = append(compact, e)
		}
	}
	slices.SortFunc(compact, func(a, b Edge) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		if c := cmp.Compare(a.To, b.To); c != 0 {
			return c
		}
		return cmp.Compare(a.Weight, b.Weight)
	})
	compact = slices.CompactFunc(compact, func(a, b Edge) bool {
		return a.From == b.From && a.To == b.To
	})

	numEdges := uint32(len(compact))
	firstOut := make([]uint32, numNodes+1)
	head := make([]uint32, numEdges)
	weight := make([]uint32, numEdges)
	for i, e := range compact {
		head[i] = e.To
		weight[i] = e.Weight
		firstOut[e.From+1]++
	}
	for i := uint32(1); i <= numNodes; i++ {
		firstOut[i] += firstOut[i-1]
	}

	return &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		FirstOut: firstOut,
		Head:     head,
		Weight:   weight,
		Lat:      slices.Clone(lat),
		Lon:      slices.Clone(lon),
	}
}
