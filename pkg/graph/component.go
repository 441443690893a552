package graph

import (
	"cmp"
	"slices"
)

// disjointSet tracks weakly connected vertices. Sets merge by size and
// Find halves paths.
type disjointSet struct {
	parent []uint32
	size   []uint32
}

func newDisjointSet(n uint32) *disjointSet {
	ds := &disjointSet{parent: make([]uint32, n), size: make([]uint32, n)}
	for i := range n {
		ds.parent[i] = i
		ds.size[i] = 1
	}
	return ds
}

func (ds *disjointSet) find(x uint32) uint32 {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

// union reports whether x and y were in different sets.
func (ds *disjointSet) union(x, y uint32) bool {
	rx, ry := ds.find(x), ds.find(y)
	if rx == ry {
		return false
	}
	if ds.size[rx] < ds.size[ry] {
		rx, ry = ry, rx
	}
	ds.parent[ry] = rx
	ds.size[rx] += ds.size[ry]
	return true
}

// Components returns the weakly connected components of g, each as
// ascending node indices. Larger components come first; equal sizes are
// ordered by their smallest node.
func Components(g *Graph) [][]uint32 {
	if g.NumNodes == 0 {
		return nil
	}
	ds := newDisjointSet(g.NumNodes)
	for u := range g.NumNodes {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			ds.union(u, g.Head[e])
		}
	}

	index := make(map[uint32]int)
	var comps [][]uint32
	for v := range g.NumNodes {
		root := ds.find(v)
		k, ok := index[root]
		if !ok {
			k = len(comps)
			index[root] = k
			comps = append(comps, make([]uint32, 0, ds.size[root]))
		}
		comps[k] = append(comps[k], v)
	}
	slices.SortStableFunc(comps, func(a, b []uint32) int {
		return cmp.Compare(len(b), len(a))
	})
	return comps
}

// LargestComponent returns the nodes of the largest weakly connected
// component, treating the directed graph as undirected.
func LargestComponent(g *Graph) []uint32 {
	comps := Components(g)
	if len(comps) == 0 {
		return nil
	}
	return comps[0]
}

// KeepComponents returns the nodes of every component with at least
// minSize nodes, plus the largest one, in ascending order.
func KeepComponents(g *Graph, minSize int) []uint32 {
	comps := Components(g)
	if len(comps) == 0 {
		return nil
	}
	nodes := slices.Clone(comps[0])
	for _, c := range comps[1:] {
		if len(c) < minSize {
			break
		}
		nodes = append(nodes, c...)
	}
	slices.Sort(nodes)
	return nodes
}

// FilterToComponent creates a new graph containing only the specified nodes,
// renumbered in the order given.
func FilterToComponent(g *Graph, nodes []uint32) *Graph {
	if len(nodes) == 0 {
		return &Graph{}
	}

	oldToNew := make(map[uint32]uint32, len(nodes))
	lat := make([]int32, len(nodes))
	lon := make([]int32, len(nodes))
	for newIdx, oldIdx := range nodes {
		oldToNew[oldIdx] = uint32(newIdx)
		lat[newIdx] = g.Lat[oldIdx]
		lon[newIdx] = g.Lon[oldIdx]
	}

	var edges []Edge
	for _, oldU := range nodes {
		start, end := g.EdgesFrom(oldU)
		for e := start; e < end; e++ {
			if newV, ok := oldToNew[g.Head[e]]; ok {
				edges = append(edges, Edge{From: oldToNew[oldU], To: newV, Weight: g.Weight[e]})
			}
		}
	}
	return FromEdges(lat, lon, edges)
}
