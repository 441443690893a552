package store

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/btree"

	"hh_router/pkg/addrindex"
	"hh_router/pkg/bitio"
	"hh_router/pkg/block"
	"hh_router/pkg/spatial"
)

// ErrInvalidHierarchy is returned by Write for input that violates the
// hierarchy invariants.
var ErrInvalidHierarchy = errors.New("invalid hierarchy")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidHierarchy, fmt.Sprintf(format, args...))
}

// Edge is a directed edge of one level, between input vertex ids.
type Edge struct {
	From, To uint32
	Weight   uint32
	block.Flags
}

// Level is one hierarchy level. Every vertex of level L+1 must also be a
// vertex of level L.
type Level struct {
	// Clusters partition the vertices of the level.
	Clusters [][]uint32
	// Neighborhood is indexed by input vertex id. Nil means every vertex
	// has none; block.Infinite marks a single absent value.
	Neighborhood []uint32
	// Edges of the level. Both endpoints must be on this level. The file
	// stores the outbound edges of a vertex in canonical order: edges to
	// vertices of the same cluster first, then the others, each group in
	// the order it appears here. OutboundEdge enumerates them that way.
	Edges []Edge
}

// Hierarchy is the writer input. Vertices are numbered 0..len(Lon)-1 and
// all of them are on level 0.
type Hierarchy struct {
	Lon, Lat []int32 // microdegrees
	Levels   []Level
}

// WriteOptions tunes the file layout.
type WriteOptions struct {
	MaxGroupSize int // upper bound for the address index group size
	PageSize     int // R-tree page size in bytes
}

// DefaultWriteOptions returns the options used by the build tool.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{MaxGroupSize: 100, PageSize: 4096}
}

// WriteResult summarizes a written file.
type WriteResult struct {
	Params         block.Params
	NumBlocks      int
	BlocksPerLevel []int
	BlockBytes     int64
	IndexBytes     int
	GroupSize      int
	SpatialBytes   int
	FileBytes      int64
	// VertexIDs maps input vertex ids to their level-0 vertex id.
	VertexIDs []block.VertexID
}

// place locates a vertex inside the provisional cluster numbering.
type place struct {
	cluster int32 // -1 when absent
	offset  uint32
}

type clusterSrc struct {
	level    int
	vertices []uint32
}

type writer struct {
	h        *Hierarchy
	n        int
	maxLevel []int
	at       [][]place
	clusters []clusterSrc
	// firstOut/outEdges group each level's edges by source, keeping
	// authored order.
	firstOut [][]uint32
	outEdges [][]uint32
	params   block.Params
}

func (w *writer) nh(level int, v uint32) uint32 {
	nh := w.h.Levels[level].Neighborhood
	if nh == nil {
		return block.Infinite
	}
	return nh[v]
}

func (w *writer) validate() error {
	h := w.h
	if len(h.Lon) != len(h.Lat) {
		return invalidf("%d longitudes but %d latitudes", len(h.Lon), len(h.Lat))
	}
	if len(h.Levels) == 0 || len(h.Levels) > 255 {
		return invalidf("%d levels, want 1..255", len(h.Levels))
	}
	w.n = len(h.Lon)
	w.at = make([][]place, len(h.Levels))
	w.maxLevel = make([]int, w.n)
	for i := range w.maxLevel {
		w.maxLevel[i] = -1
	}

	for l, lvl := range h.Levels {
		at := make([]place, w.n)
		for i := range at {
			at[i].cluster = -1
		}
		for _, cl := range lvl.Clusters {
			if len(cl) == 0 {
				return invalidf("level %d has an empty cluster", l)
			}
			k := int32(len(w.clusters))
			for _, v := range cl {
				if int(v) >= w.n {
					return invalidf("level %d: vertex %d out of range", l, v)
				}
				if at[v].cluster >= 0 {
					return invalidf("level %d: vertex %d in two clusters", l, v)
				}
				if l > 0 && w.at[l-1][v].cluster < 0 {
					return invalidf("level %d: vertex %d is missing from level %d", l, v, l-1)
				}
				at[v].cluster = k
				w.maxLevel[v] = l
			}
			w.clusters = append(w.clusters, clusterSrc{level: l, vertices: slices.Clone(cl)})
		}
		if l == 0 {
			for v := range at {
				if at[v].cluster < 0 {
					return invalidf("level 0: vertex %d is not in any cluster", v)
				}
			}
		}
		if lvl.Neighborhood != nil && len(lvl.Neighborhood) != w.n {
			return invalidf("level %d: %d neighborhood values for %d vertices", l, len(lvl.Neighborhood), w.n)
		}
		for i, e := range lvl.Edges {
			if int(e.From) >= w.n || int(e.To) >= w.n || at[e.From].cluster < 0 || at[e.To].cluster < 0 {
				return invalidf("level %d: edge %d (%d->%d) has an endpoint off the level", l, i, e.From, e.To)
			}
		}
		w.at[l] = at
	}
	if len(w.clusters) == 0 {
		return invalidf("no clusters")
	}
	return nil
}

// sortClusters orders each cluster so that vertices on the next level
// come first and, within them, vertices with a neighborhood come first.
func (w *writer) sortClusters() error {
	for k := range w.clusters {
		c := &w.clusters[k]
		l := c.level
		slices.SortFunc(c.vertices, func(a, b uint32) int {
			if r := cmp.Compare(w.maxLevel[b], w.maxLevel[a]); r != 0 {
				return r
			}
			if r := cmp.Compare(w.nh(l, a), w.nh(l, b)); r != 0 {
				return r
			}
			return cmp.Compare(a, b)
		})
		seenInfinite := false
		for i, v := range c.vertices {
			w.at[l][v].offset = uint32(i)
			if w.nh(l, v) == block.Infinite {
				seenInfinite = true
			} else if seenInfinite {
				return invalidf("level %d: vertex %d has a neighborhood after a vertex without one in its cluster", l, v)
			}
		}
	}
	return nil
}

func (w *writer) groupEdges() {
	w.firstOut = make([][]uint32, len(w.h.Levels))
	w.outEdges = make([][]uint32, len(w.h.Levels))
	for l, lvl := range w.h.Levels {
		first := make([]uint32, w.n+1)
		for _, e := range lvl.Edges {
			first[e.From+1]++
		}
		for i := 1; i <= w.n; i++ {
			first[i] += first[i-1]
		}
		next := slices.Clone(first[:w.n])
		out := make([]uint32, len(lvl.Edges))
		for i, e := range lvl.Edges {
			out[next[e.From]] = uint32(i)
			next[e.From]++
		}
		w.firstOut[l] = first
		w.outEdges[l] = out
	}
}

func (w *writer) edgesOf(l int, v uint32) []uint32 {
	return w.outEdges[l][w.firstOut[l][v]:w.firstOut[l][v+1]]
}

func (w *writer) computeParams() error {
	var maxSize, maxEdges, maxNH uint32
	for _, c := range w.clusters {
		maxSize = max(maxSize, uint32(len(c.vertices)))
		var numInt, numExt uint32
		for _, v := range c.vertices {
			if nh := w.nh(c.level, v); nh != block.Infinite {
				maxNH = max(maxNH, nh)
			}
			k := w.at[c.level][v].cluster
			for _, ei := range w.edgesOf(c.level, v) {
				if w.at[c.level][w.h.Levels[c.level].Edges[ei].To].cluster == k {
					numInt++
				} else {
					numExt++
				}
			}
		}
		maxEdges = max(maxEdges, numInt, numExt)
	}
	w.params = block.Params{
		BitsPerClusterID:    uint8(bitio.BitsFor(uint32(len(w.clusters)))),
		BitsPerVertexOffset: uint8(bitio.BitsFor(maxSize)),
		BitsPerEdgeCount:    uint8(bitio.BitsFor(maxEdges)),
		BitsPerNeighborhood: uint8(bitio.BitsFor(maxNH)),
		NumLevels:           uint8(len(w.h.Levels)),
	}
	if int(w.params.BitsPerClusterID)+int(w.params.BitsPerVertexOffset) > 31 {
		return invalidf("%d clusters of up to %d vertices need more than 31 id bits", len(w.clusters), maxSize)
	}
	return nil
}

// refList is an ordered set of provisional cluster ids.
type refList struct {
	set *btree.BTreeG[uint32]
	idx map[uint32]uint32
}

func newRefList() *refList {
	return &refList{set: btree.NewBTreeG[uint32](func(a, b uint32) bool { return a < b })}
}

func (r *refList) add(k int32) { r.set.Set(uint32(k)) }

// seal freezes the set into a list and its reverse index.
func (r *refList) seal() []uint32 {
	list := make([]uint32, 0, r.set.Len())
	r.idx = make(map[uint32]uint32, r.set.Len())
	r.set.Scan(func(k uint32) bool {
		r.idx[k] = uint32(len(list))
		list = append(list, k)
		return true
	})
	return list
}

func (r *refList) ref(p place) block.Ref {
	return block.Ref{Block: r.idx[uint32(p.cluster)], Offset: p.offset}
}

// cluster builds the value form of provisional cluster k.
func (w *writer) cluster(k int) *block.Cluster {
	src := w.clusters[k]
	l := src.level
	top := len(w.h.Levels) - 1
	edges := w.h.Levels[l].Edges
	at := w.at[l]

	adj, subj, overly, zero := newRefList(), newRefList(), newRefList(), newRefList()
	c := &block.Cluster{Level: uint8(l)}
	for i, v := range src.vertices {
		if w.nh(l, v) != block.Infinite {
			c.NumWithNeighborhood = uint32(i + 1)
		}
		if l < top && w.maxLevel[v] > l {
			c.NumHigher = uint32(i + 1)
			overly.add(w.at[l+1][v].cluster)
		}
		if l > 1 {
			subj.add(w.at[l-1][v].cluster)
		}
		if l > 0 {
			zero.add(w.at[0][v].cluster)
		}
		for _, ei := range w.edgesOf(l, v) {
			to := edges[ei].To
			if at[to].cluster != int32(k) {
				adj.add(at[to].cluster)
				if l > 0 {
					zero.add(w.at[0][to].cluster)
				}
			}
		}
	}
	c.Adj, c.Subj, c.Overly, c.LvlZero = adj.seal(), subj.seal(), overly.seal(), zero.seal()

	c.Vertices = make([]block.VertexRecord, len(src.vertices))
	for i, v := range src.vertices {
		rec := &c.Vertices[i]
		rec.Neighborhood = block.Infinite
		if uint32(i) < c.NumWithNeighborhood {
			rec.Neighborhood = w.nh(l, v)
		}
		if l == 0 {
			rec.Lon, rec.Lat = w.h.Lon[v], w.h.Lat[v]
		}
		if l > 1 {
			rec.Below = subj.ref(w.at[l-1][v])
		}
		if uint32(i) < c.NumHigher {
			rec.Above = overly.ref(w.at[l+1][v])
		}
		if l > 0 {
			rec.Zero = zero.ref(w.at[0][v])
		}
		for _, ei := range w.edgesOf(l, v) {
			e := edges[ei]
			if at[e.To].cluster == int32(k) {
				rec.Internal = append(rec.Internal, block.InternalEdge{Target: at[e.To].offset, Weight: e.Weight, Flags: e.Flags})
				continue
			}
			ext := block.ExternalEdge{Target: adj.ref(at[e.To]), Weight: e.Weight, Flags: e.Flags}
			if l > 0 {
				ext.Zero = zero.ref(w.at[0][e.To])
			}
			rec.External = append(rec.External, ext)
		}
	}
	return c
}

func remap(list []uint32, final []uint32) {
	for i, k := range list {
		list[i] = final[k]
	}
}

// Write builds the graph file for h at path. The file is written to a
// temporary sibling and renamed into place.
func Write(path string, h *Hierarchy, opts WriteOptions) (*WriteResult, error) {
	def := DefaultWriteOptions()
	if opts.MaxGroupSize <= 0 {
		opts.MaxGroupSize = def.MaxGroupSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if spatial.Capacity(opts.PageSize) < 2 {
		return nil, fmt.Errorf("page size %d holds fewer than 2 entries", opts.PageSize)
	}

	w := &writer{h: h}
	if err := w.validate(); err != nil {
		return nil, err
	}
	if err := w.sortClusters(); err != nil {
		return nil, err
	}
	w.groupEdges()
	if err := w.computeParams(); err != nil {
		return nil, err
	}

	// Encode with provisional ids to learn the block sizes.
	values := make([]*block.Cluster, len(w.clusters))
	sizes := make([]int, len(w.clusters))
	for k := range w.clusters {
		values[k] = w.cluster(k)
		data, err := block.Encode(values[k], w.params)
		if err != nil {
			return nil, fmt.Errorf("encode cluster %d: %w", k, err)
		}
		sizes[k] = len(data)
	}

	// Final ids sort blocks by size; list order and list indices stay put.
	order := make([]uint32, len(w.clusters))
	for i := range order {
		order[i] = uint32(i)
	}
	slices.SortStableFunc(order, func(a, b uint32) int { return cmp.Compare(sizes[a], sizes[b]) })
	final := make([]uint32, len(order))
	for id, k := range order {
		final[k] = uint32(id)
	}

	res := &WriteResult{
		Params:         w.params,
		NumBlocks:      len(order),
		BlocksPerLevel: make([]int, len(h.Levels)),
	}
	blocks := make([][]byte, len(order))
	blockSizes := make([]uint32, len(order))
	var entries []spatial.Entry
	for id, k := range order {
		c := values[k]
		remap(c.Adj, final)
		remap(c.Subj, final)
		remap(c.Overly, final)
		remap(c.LvlZero, final)
		data, err := block.Encode(c, w.params)
		if err != nil {
			return nil, fmt.Errorf("encode cluster %d: %w", k, err)
		}
		if len(data) != sizes[k] {
			return nil, fmt.Errorf("cluster %d changed size from %d to %d bytes after renumbering", k, sizes[k], len(data))
		}
		blocks[id] = data
		blockSizes[id] = uint32(len(data))
		res.BlockBytes += int64(len(data))
		res.BlocksPerLevel[c.Level]++

		if c.Level == 0 {
			entries = append(entries, spatial.Entry{Rect: bbox(c.Vertices), Pointer: uint32(id)})
		}
	}

	layout := w.params.Layout()
	res.VertexIDs = make([]block.VertexID, w.n)
	for v, p := range w.at[0] {
		id, err := layout.Make(final[p.cluster], p.offset)
		if err != nil {
			return nil, err
		}
		res.VertexIDs[v] = id
	}

	index, err := addrindex.SpaceOptimal(blockSizes, opts.MaxGroupSize)
	if err != nil {
		return nil, fmt.Errorf("build address index: %w", err)
	}
	tree, err := spatial.Pack(entries, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("build spatial index: %w", err)
	}
	res.IndexBytes = index.ByteSize()
	res.GroupSize = index.GroupSize()
	res.SpatialBytes = len(tree)

	hdr := fileHeader{Version: version}
	copy(hdr.Magic[:], magicBytes)
	hdr.Params = Section{Start: headerLength, End: headerLength + paramsLength}
	hdr.Blocks = Section{Start: hdr.Params.End, End: hdr.Params.End + res.BlockBytes}
	hdr.Index = Section{Start: hdr.Blocks.End, End: hdr.Blocks.End + int64(res.IndexBytes)}
	hdr.Spatial = Section{Start: hdr.Index.End, End: hdr.Index.End + int64(len(tree))}
	res.FileBytes = hdr.Spatial.End

	if err := writeFile(path, &hdr, w.params, blocks, index, tree); err != nil {
		return nil, err
	}
	return res, nil
}

func bbox(vs []block.VertexRecord) spatial.Rect {
	r := spatial.Rect{MinLon: vs[0].Lon, MaxLon: vs[0].Lon, MinLat: vs[0].Lat, MaxLat: vs[0].Lat}
	for _, v := range vs[1:] {
		r = r.Union(spatial.Rect{MinLon: v.Lon, MaxLon: v.Lon, MinLat: v.Lat, MaxLat: v.Lat})
	}
	return r
}

func writeFile(path string, hdr *fileHeader, p block.Params, blocks [][]byte, index *addrindex.Index, tree []byte) error {
	rawHdr, err := hdr.encode()
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	if _, err := bw.Write(rawHdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := bw.Write(encodeParams(p)); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	for id, data := range blocks {
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("write block %d: %w", id, err)
		}
	}
	if _, err := index.WriteTo(bw); err != nil {
		return fmt.Errorf("write address index: %w", err)
	}
	if _, err := bw.Write(tree); err != nil {
		return fmt.Errorf("write spatial index: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
