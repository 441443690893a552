// Package storetest builds small graph files for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hh_router/pkg/block"
	"hh_router/pkg/store"
)

// Base coordinates of the toy graph, in microdegrees.
const (
	BaseLat = 52_520_000
	BaseLon = 13_400_000
	Step    = 2_000
)

func both(from, to, w uint32, f block.Flags) []store.Edge {
	return []store.Edge{
		{From: from, To: to, Weight: w, Flags: f},
		{From: to, To: from, Weight: w, Flags: f},
	}
}

// Toy returns a three-level hierarchy of ten vertices on a west-east line.
//
//	level 0: 0-1-2-3-4 | 5-6-7-8-9   (clusters split at the bar)
//	level 1: 0-2-4     | 5-7-9
//	level 2: 4         | 5
//
// Vertex 3 shares the coordinates of vertex 1.
func Toy() *store.Hierarchy {
	const n = 10
	h := &store.Hierarchy{Lon: make([]int32, n), Lat: make([]int32, n)}
	for i := range n {
		h.Lon[i] = BaseLon + int32(i)*Step
		h.Lat[i] = BaseLat
	}
	h.Lon[3], h.Lat[3] = h.Lon[1], h.Lat[1]

	road := block.Flags{Forward: true, Backward: true}
	var e0 []store.Edge
	for i := range uint32(n - 1) {
		e0 = append(e0, both(i, i+1, 100+i, road)...)
	}
	nh0 := make([]uint32, n)
	for i := range nh0 {
		nh0[i] = block.Infinite
	}
	for _, v := range []uint32{0, 2, 4, 5, 7, 9} {
		nh0[v] = 150 + v
	}

	shortcut := block.Flags{Shortcut: true, Forward: true, Backward: true}
	var e1 []store.Edge
	e1 = append(e1, both(0, 2, 201, shortcut)...)
	e1 = append(e1, both(2, 4, 205, shortcut)...)
	e1 = append(e1, both(4, 5, 104, road)...)
	e1 = append(e1, both(5, 7, 211, shortcut)...)
	e1 = append(e1, both(7, 9, 215, shortcut)...)
	nh1 := make([]uint32, n)
	for i := range nh1 {
		nh1[i] = block.Infinite
	}
	for _, v := range []uint32{0, 2, 4, 5, 7, 9} {
		nh1[v] = 400 + v
	}

	core := block.Flags{Forward: true, Backward: true, Core: true}
	h.Levels = []store.Level{
		{Clusters: [][]uint32{{0, 1, 2, 3, 4}, {5, 6, 7, 8, 9}}, Neighborhood: nh0, Edges: e0},
		{Clusters: [][]uint32{{0, 2, 4}, {5, 7, 9}}, Neighborhood: nh1, Edges: e1},
		{Clusters: [][]uint32{{4}, {5}}, Edges: both(4, 5, 104, core)},
	}
	return h
}

// WriteToy writes Toy to a temporary file and returns its path with the
// write summary.
func WriteToy(t testing.TB) (string, *store.WriteResult) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toy.hh")
	res, err := store.Write(path, Toy(), store.DefaultWriteOptions())
	require.NoError(t, err)
	return path, res
}
