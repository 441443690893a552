package hierarchy

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hh_router/pkg/block"
	"hh_router/pkg/graph"
	"hh_router/pkg/store"
)

// gridGraph builds a side x side grid with bidirectional edges whose
// weights vary by position.
func gridGraph(side int) *graph.Graph {
	n := side * side
	lat := make([]int32, n)
	lon := make([]int32, n)
	var edges []graph.Edge
	for y := range side {
		for x := range side {
			v := uint32(y*side + x)
			lat[v] = int32(y * 1000)
			lon[v] = int32(x * 1000)
			if x+1 < side {
				w := uint32(100 + (x*7+y*3)%50)
				edges = append(edges, graph.Edge{From: v, To: v + 1, Weight: w}, graph.Edge{From: v + 1, To: v, Weight: w})
			}
			if y+1 < side {
				w := uint32(100 + (x*5+y*11)%50)
				edges = append(edges, graph.Edge{From: v, To: v + uint32(side), Weight: w}, graph.Edge{From: v + uint32(side), To: v, Weight: w})
			}
		}
	}
	return graph.FromEdges(lat, lon, edges)
}

// distances runs Dijkstra over the forward entries of one level.
func distances(n int, edges []store.Edge, source uint32) []uint32 {
	dist := make([]uint32, n)
	for i := range dist {
		dist[i] = math.MaxUint32
	}
	done := make([]bool, n)
	dist[source] = 0
	for {
		u, best := -1, uint32(math.MaxUint32)
		for v := range dist {
			if !done[v] && dist[v] < best {
				u, best = v, dist[v]
			}
		}
		if u < 0 {
			return dist
		}
		done[u] = true
		for _, e := range edges {
			if e.From == uint32(u) && e.Forward && best+e.Weight < dist[e.To] {
				dist[e.To] = best + e.Weight
			}
		}
	}
}

func levelVertices(lvl store.Level) []uint32 {
	var out []uint32
	for _, c := range lvl.Clusters {
		out = append(out, c...)
	}
	return out
}

func testOptions() Options {
	return Options{NumLevels: 4, ClusterSize: 8, NeighborhoodSize: 4, ContractFraction: 0.5}
}

func TestBuildShrinksLevels(t *testing.T) {
	g := gridGraph(8)
	h, err := Build(g, testOptions())
	require.NoError(t, err)
	require.Len(t, h.Levels, 4)

	prev := make(map[uint32]bool)
	for v := range g.NumNodes {
		prev[v] = true
	}
	for l, lvl := range h.Levels {
		verts := levelVertices(lvl)
		require.NotEmpty(t, verts)
		cur := make(map[uint32]bool)
		for _, v := range verts {
			assert.True(t, prev[v], "level %d vertex %d missing below", l, v)
			cur[v] = true
		}
		if l > 0 {
			assert.Less(t, len(cur), len(prev), "level %d did not shrink", l)
		}
		for _, c := range lvl.Clusters {
			assert.LessOrEqual(t, len(c), 8)
		}

		top := l == len(h.Levels)-1
		for _, e := range lvl.Edges {
			assert.Equal(t, top, e.Core)
			assert.True(t, e.Forward || e.Backward)
			assert.True(t, cur[e.From] && cur[e.To])
		}
		if top {
			assert.Nil(t, lvl.Neighborhood)
		} else {
			for _, v := range verts {
				assert.NotEqual(t, uint32(block.Infinite), lvl.Neighborhood[v])
			}
		}
		prev = cur
	}
}

func TestBuildPreservesDistances(t *testing.T) {
	g := gridGraph(7)
	h, err := Build(g, testOptions())
	require.NoError(t, err)

	n := int(g.NumNodes)
	var base []store.Edge
	for _, e := range g.Edges() {
		base = append(base, store.Edge{From: e.From, To: e.To, Weight: e.Weight, Flags: block.Flags{Forward: true}})
	}

	for l, lvl := range h.Levels[1:] {
		verts := levelVertices(lvl)
		for _, s := range verts {
			want := distances(n, base, s)
			got := distances(n, lvl.Edges, s)
			for _, v := range verts {
				assert.Equal(t, want[v], got[v], "level %d: %d->%d", l+1, s, v)
			}
		}
	}
}

func TestBuildNeighborhoodRadius(t *testing.T) {
	// A path 0 - 1 - 2 - 3 with weights 10, 20, 30.
	g := graph.FromEdges([]int32{0, 0, 0, 0}, []int32{0, 1, 2, 3}, []graph.Edge{
		{From: 0, To: 1, Weight: 10}, {From: 1, To: 0, Weight: 10},
		{From: 1, To: 2, Weight: 20}, {From: 2, To: 1, Weight: 20},
		{From: 2, To: 3, Weight: 30}, {From: 3, To: 2, Weight: 30},
	})
	opts := Options{NumLevels: 2, ClusterSize: 4, NeighborhoodSize: 2, ContractFraction: 0.5}
	h, err := Build(g, opts)
	require.NoError(t, err)
	require.Len(t, h.Levels, 2)

	// Second closest vertex: 0 -> 2 (30), 1 -> 2 (20), 2 -> 0 or 3 (30), 3 -> 1 (50).
	assert.Equal(t, []uint32{30, 20, 30, 50}, h.Levels[0].Neighborhood)
}

func TestBuildSingleVertex(t *testing.T) {
	g := graph.FromEdges([]int32{5}, []int32{7}, nil)
	h, err := Build(g, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, h.Levels, 1)
	assert.Equal(t, [][]uint32{{0}}, h.Levels[0].Clusters)
	assert.Empty(t, h.Levels[0].Edges)
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := Build(&graph.Graph{}, DefaultOptions())
	assert.Error(t, err)

	g := gridGraph(2)
	for _, opts := range []Options{
		{NumLevels: 0, ClusterSize: 1, NeighborhoodSize: 1, ContractFraction: 0.5},
		{NumLevels: 2, ClusterSize: 0, NeighborhoodSize: 1, ContractFraction: 0.5},
		{NumLevels: 2, ClusterSize: 1, NeighborhoodSize: 0, ContractFraction: 0.5},
		{NumLevels: 2, ClusterSize: 1, NeighborhoodSize: 1, ContractFraction: 1},
	} {
		_, err := Build(g, opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestBuildWritesReadableFile(t *testing.T) {
	g := gridGraph(10)
	h, err := Build(g, testOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "grid.hh")
	res, err := store.Write(path, h, store.DefaultWriteOptions())
	require.NoError(t, err)

	s, err := store.Open(path, store.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, len(h.Levels), s.NumLevels())

	// Every vertex climbs to its highest level through Above links.
	for v := range g.NumNodes {
		var cur block.Vertex
		require.NoError(t, s.Vertex(res.VertexIDs[v], &cur))
		assert.Equal(t, g.Lat[v], cur.Lat)
		for cur.Above != block.NoVertex {
			require.NoError(t, s.Vertex(cur.Above, &cur))
			assert.Equal(t, res.VertexIDs[v], cur.Zero)
		}
	}
}
