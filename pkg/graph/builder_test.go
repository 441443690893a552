package graph

import (
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	osmparser "hh_router/pkg/osm"
)

func parsed(edges []osmparser.RawEdge) *osmparser.ParseResult {
	res := &osmparser.ParseResult{Edges: edges, Nodes: map[osm.NodeID]osmparser.Coord{}}
	for _, e := range edges {
		for _, id := range []osm.NodeID{e.From, e.To} {
			res.Nodes[id] = osmparser.Coord{Lat: int32(id) * 1000, Lon: 103_000_000 + int32(id)*1000}
		}
	}
	return res
}

func requireCSR(t *testing.T, g *Graph) {
	t.Helper()
	require.Len(t, g.FirstOut, int(g.NumNodes)+1)
	for i := uint32(1); i <= g.NumNodes; i++ {
		require.GreaterOrEqual(t, g.FirstOut[i], g.FirstOut[i-1], "FirstOut not monotonic at %d", i)
	}
	require.Equal(t, g.NumEdges, g.FirstOut[g.NumNodes])
	for i, h := range g.Head {
		require.Less(t, h, g.NumNodes, "Head[%d]", i)
	}
	require.Len(t, g.Lat, int(g.NumNodes))
	require.Len(t, g.Lon, int(g.NumNodes))
}

func TestBuildSimpleGraph(t *testing.T) {
	// Triangle 100 -> 200 -> 300 -> 100.
	g := Build(parsed([]osmparser.RawEdge{
		{From: 100, To: 200, Weight: 1000},
		{From: 200, To: 300, Weight: 2000},
		{From: 300, To: 100, Weight: 3000},
	}))
	requireCSR(t, g)
	assert.Equal(t, uint32(3), g.NumNodes)
	assert.Equal(t, uint32(3), g.NumEdges)
	for i := range g.NumNodes {
		start, end := g.EdgesFrom(i)
		assert.Equal(t, uint32(1), end-start, "node %d", i)
	}
	// Node indices follow first appearance.
	assert.Equal(t, int32(100_000), g.Lat[0])
	assert.Equal(t, int32(300_000), g.Lat[2])
}

func TestBuildEmptyGraph(t *testing.T) {
	g := Build(&osmparser.ParseResult{})
	assert.Zero(t, g.NumNodes)
	assert.Zero(t, g.NumEdges)
}

func TestBuildDropsLoopsAndParallelEdges(t *testing.T) {
	g := Build(parsed([]osmparser.RawEdge{
		{From: 10, To: 20, Weight: 500},
		{From: 10, To: 20, Weight: 300},
		{From: 20, To: 20, Weight: 1},
		{From: 20, To: 10, Weight: 500},
		{From: 10, To: 30, Weight: 200},
	}))
	requireCSR(t, g)
	assert.Equal(t, uint32(3), g.NumEdges)
	assert.Equal(t, []Edge{
		{From: 0, To: 1, Weight: 300},
		{From: 0, To: 2, Weight: 200},
		{From: 1, To: 0, Weight: 500},
	}, g.Edges())
}
