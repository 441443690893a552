// Package hierarchy turns a road graph into the multi-level input of the
// graph file writer. Each level contracts part of the previous one: the
// surviving vertices, linked by the remaining original edges and the
// shortcuts added during contraction, form the next level.
package hierarchy

import (
	"cmp"
	"container/heap"
	"errors"
	"fmt"
	"log"
	"slices"

	"hh_router/pkg/block"
	"hh_router/pkg/graph"
	"hh_router/pkg/store"
)

// maxShortcutsPerNode is the limit on shortcuts a single contraction can
// create. A round stops at the first vertex above it.
const maxShortcutsPerNode = 1000

// Options control the shape of the hierarchy.
type Options struct {
	NumLevels        int     // upper bound; fewer when a level stops shrinking
	ClusterSize      int     // max vertices per cluster
	NeighborhoodSize int     // rank of the vertex that defines a neighborhood radius
	ContractFraction float64 // share of a level's vertices removed for the next level
}

// DefaultOptions returns the options used by the build tool.
func DefaultOptions() Options {
	return Options{
		NumLevels:        5,
		ClusterSize:      64,
		NeighborhoodSize: 16,
		ContractFraction: 0.75,
	}
}

func (o Options) validate() error {
	switch {
	case o.NumLevels < 1 || o.NumLevels > 255:
		return fmt.Errorf("levels %d out of range 1..255", o.NumLevels)
	case o.ClusterSize < 1:
		return fmt.Errorf("cluster size %d must be positive", o.ClusterSize)
	case o.NeighborhoodSize < 1:
		return fmt.Errorf("neighborhood size %d must be positive", o.NeighborhoodSize)
	case o.ContractFraction <= 0 || o.ContractFraction >= 1:
		return fmt.Errorf("contract fraction %v out of range (0,1)", o.ContractFraction)
	}
	return nil
}

// adjEntry is an edge in the mutable adjacency lists.
type adjEntry struct {
	to       uint32
	weight   uint32
	shortcut bool
}

type builder struct {
	opts    Options
	n       uint32
	outAdj  [][]adjEntry
	inAdj   [][]adjEntry
	removed []bool // off the current level
	active  []uint32
	ws      *witnessState
}

// Build derives a hierarchy from g. Vertex ids of the result are the node
// indices of g.
func Build(g *graph.Graph, opts Options) (*store.Hierarchy, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if g.NumNodes == 0 {
		return nil, errors.New("empty graph")
	}

	b := &builder{
		opts:    opts,
		n:       g.NumNodes,
		outAdj:  make([][]adjEntry, g.NumNodes),
		inAdj:   make([][]adjEntry, g.NumNodes),
		removed: make([]bool, g.NumNodes),
		active:  make([]uint32, g.NumNodes),
		ws:      newWitnessState(g.NumNodes),
	}
	for u := range g.NumNodes {
		b.active[u] = u
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			v, w := g.Head[e], g.Weight[e]
			b.outAdj[u] = append(b.outAdj[u], adjEntry{to: v, weight: w})
			b.inAdj[v] = append(b.inAdj[v], adjEntry{to: u, weight: w})
		}
	}

	h := &store.Hierarchy{Lat: g.Lat, Lon: g.Lon}
	for l := 0; ; l++ {
		verts := slices.Clone(b.active)
		edges := b.levelEdges()
		var nh []uint32
		top := l == opts.NumLevels-1 || len(verts) < 2
		if !top {
			nh = b.neighborhoods()
			top = !b.contract()
		}
		if top {
			nh = nil
			for i := range edges {
				edges[i].Core = true
			}
		}

		clusters := graph.Partition(verts, g.Lat, g.Lon, opts.ClusterSize)
		h.Levels = append(h.Levels, store.Level{Clusters: clusters, Neighborhood: nh, Edges: edges})
		log.Printf("Level %d: %d vertices, %d edge entries, %d clusters", l, len(verts), len(edges), len(clusters))
		if top {
			return h, nil
		}
		b.advance()
	}
}

type entryKey struct {
	from, to, weight uint32
}

// levelEdges lists every edge of the level twice: at its source flagged
// forward and at its target flagged backward. Entries of opposite edges
// with equal weight merge into one.
func (b *builder) levelEdges() []store.Edge {
	flags := make(map[entryKey]block.Flags)
	for _, u := range b.active {
		for _, e := range b.outAdj[u] {
			fk := entryKey{from: u, to: e.to, weight: e.weight}
			f := flags[fk]
			f.Forward = true
			f.Shortcut = f.Shortcut || e.shortcut
			flags[fk] = f

			bk := entryKey{from: e.to, to: u, weight: e.weight}
			f = flags[bk]
			f.Backward = true
			f.Shortcut = f.Shortcut || e.shortcut
			flags[bk] = f
		}
	}

	keys := make([]entryKey, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b entryKey) int {
		if c := cmp.Compare(a.from, b.from); c != 0 {
			return c
		}
		if c := cmp.Compare(a.to, b.to); c != 0 {
			return c
		}
		return cmp.Compare(a.weight, b.weight)
	})

	edges := make([]store.Edge, len(keys))
	for i, k := range keys {
		edges[i] = store.Edge{From: k.from, To: k.to, Weight: k.weight, Flags: flags[k]}
	}
	return edges
}

func (b *builder) neighborhoods() []uint32 {
	nh := make([]uint32, b.n)
	for i := range nh {
		nh[i] = block.Infinite
	}
	for _, u := range b.active {
		nh[u] = neighborhoodRadius(b.ws, b.outAdj, u, b.opts.NeighborhoodSize)
	}
	return nh
}

// contract removes up to ContractFraction of the active vertices, adding
// shortcuts that keep distances between the survivors. It reports whether
// any vertex was removed.
func (b *builder) contract() bool {
	target := max(int(float64(len(b.active))*b.opts.ContractFraction), 1)
	target = min(target, len(b.active)-1)

	contractedNeighbors := make(map[uint32]int)
	depth := make(map[uint32]int)

	pq := make(priorityQueue, len(b.active))
	for i, u := range b.active {
		pq[i] = &pqEntry{node: u, priority: b.priority(u, 0, 0), index: i}
	}
	heap.Init(&pq)

	var removed, shortcuts int
	for pq.Len() > 0 && removed < target {
		entry := heap.Pop(&pq).(*pqEntry)
		node := entry.node
		if b.removed[node] {
			continue
		}

		// Lazy update: re-insert if the priority grew past the next entry.
		p := b.priority(node, contractedNeighbors[node], depth[node])
		if p > entry.priority && pq.Len() > 0 && p > pq[0].priority {
			entry.priority = p
			heap.Push(&pq, entry)
			continue
		}

		sc := b.findShortcuts(node)
		if len(sc) > maxShortcutsPerNode {
			log.Printf("Stopping round: vertex %d would create %d shortcuts (limit %d)", node, len(sc), maxShortcutsPerNode)
			break
		}

		b.removed[node] = true
		removed++
		shortcuts += len(sc)
		for _, s := range sc {
			b.outAdj[s.from] = append(b.outAdj[s.from], adjEntry{to: s.to, weight: s.weight, shortcut: true})
			b.inAdj[s.to] = append(b.inAdj[s.to], adjEntry{to: s.from, weight: s.weight, shortcut: true})
		}
		for _, adj := range [][]adjEntry{b.outAdj[node], b.inAdj[node]} {
			for _, e := range adj {
				if !b.removed[e.to] {
					contractedNeighbors[e.to]++
					depth[e.to] = max(depth[e.to], depth[node]+1)
				}
			}
		}
	}
	log.Printf("Contracted %d/%d vertices, %d shortcuts", removed, len(b.active), shortcuts)
	return removed > 0
}

// advance drops removed vertices and collapses parallel edges to the
// lightest one, preferring original edges on ties.
func (b *builder) advance() {
	next := b.active[:0]
	for _, u := range b.active {
		if b.removed[u] {
			b.outAdj[u], b.inAdj[u] = nil, nil
			continue
		}
		next = append(next, u)
	}
	for _, u := range next {
		b.outAdj[u] = b.compact(b.outAdj[u])
		b.inAdj[u] = b.compact(b.inAdj[u])
	}
	b.active = next
}

func (b *builder) compact(adj []adjEntry) []adjEntry {
	adj = slices.DeleteFunc(adj, func(e adjEntry) bool { return b.removed[e.to] })
	slices.SortFunc(adj, func(x, y adjEntry) int {
		if c := cmp.Compare(x.to, y.to); c != 0 {
			return c
		}
		if c := cmp.Compare(x.weight, y.weight); c != 0 {
			return c
		}
		if x.shortcut == y.shortcut {
			return 0
		}
		if y.shortcut {
			return -1
		}
		return 1
	})
	return slices.CompactFunc(adj, func(x, y adjEntry) bool { return x.to == y.to })
}
