package block

import (
	"errors"
	"fmt"

	"hh_router/pkg/bitio"
)

// ErrInvalidCluster is returned by Encode for values the block format
// cannot represent.
var ErrInvalidCluster = errors.New("invalid cluster")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCluster, fmt.Sprintf(format, args...))
}

func fits(v uint32, width uint8) bool {
	return bitio.BitsFor(v) <= uint(width)
}

// Encode serializes c using the global widths in p. Local widths are the
// minimum needed for the cluster's values.
func Encode(c *Cluster, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	shape, err := ShapeOf(c.Level, p.NumLevels)
	if err != nil {
		return nil, invalid("level %d: %v", c.Level, err)
	}
	h, err := buildHeader(c, p, shape)
	if err != nil {
		return nil, err
	}
	if err := validateRefs(c, p, shape); err != nil {
		return nil, err
	}

	sec := layoutSections(h, p, shape)
	w := bitio.NewWriter(int(sec.end >> 3))
	bpc := uint(p.BitsPerClusterID)
	bpvo := uint(p.BitsPerVertexOffset)
	bpec := uint(p.BitsPerEdgeCount)

	// Header.
	w.WriteUInt(uint32(h.level), 8)
	w.WriteUInt(h.numWithNH, bpvo)
	w.WriteUInt(h.numHigher, bpvo)
	w.WriteUInt(h.numVertices, bpvo)
	w.WriteUInt(h.numInt, bpec)
	w.WriteUInt(h.numExt, bpec)
	w.WriteUInt(h.numAdj, bpc)
	w.WriteUInt(h.numSubj, bpc)
	w.WriteUInt(h.numOverly, bpc)
	w.WriteUInt(h.numLvlZero, bpc)
	w.WriteInt32(h.minLon)
	w.WriteInt32(h.minLat)
	for _, lw := range h.w.list() {
		w.WriteUInt(uint32(*lw), localWidthBits)
	}
	w.Align()

	// Reference lists.
	for _, list := range [][]uint32{c.Adj, c.Subj, c.Overly, c.LvlZero} {
		for _, id := range list {
			w.WriteUInt(id, bpc)
		}
		w.Align()
	}

	writeRef := func(r Ref, blockBits uint) {
		w.WriteUInt(r.Block, blockBits)
		w.WriteUInt(r.Offset, bpvo)
	}
	if shape.Below {
		for i := range c.Vertices {
			writeRef(c.Vertices[i].Below, h.w.subj)
		}
		w.Align()
	}
	if shape.Above {
		for i := range c.Vertices[:h.numHigher] {
			writeRef(c.Vertices[i].Above, h.w.overly)
		}
		w.Align()
	}
	if shape.Zero {
		for i := range c.Vertices {
			writeRef(c.Vertices[i].Zero, h.w.lvlZero)
		}
		w.Align()
	}

	for i := range c.Vertices[:h.numWithNH] {
		w.WriteUInt(c.Vertices[i].Neighborhood, uint(p.BitsPerNeighborhood))
	}
	w.Align()

	if shape.Coords {
		for i := range c.Vertices {
			w.WriteUInt(uint32(int64(c.Vertices[i].Lon)-int64(h.minLon)), h.w.lon)
		}
		w.Align()
		for i := range c.Vertices {
			w.WriteUInt(uint32(int64(c.Vertices[i].Lat)-int64(h.minLat)), h.w.lat)
		}
		w.Align()
	}

	// Edge offsets: n+1 running totals per table.
	var off uint32
	for i := range c.Vertices {
		w.WriteUInt(off, h.w.offsInt)
		off += uint32(len(c.Vertices[i].Internal))
	}
	w.WriteUInt(off, h.w.offsInt)
	w.Align()
	off = 0
	for i := range c.Vertices {
		w.WriteUInt(off, h.w.offsExt)
		off += uint32(len(c.Vertices[i].External))
	}
	w.WriteUInt(off, h.w.offsExt)
	w.Align()

	writeFlags := func(f Flags) {
		w.WriteBit(f.Shortcut)
		w.WriteBit(f.Forward)
		w.WriteBit(f.Backward)
		w.WriteBit(f.Core)
	}
	for i := range c.Vertices {
		for _, e := range c.Vertices[i].Internal {
			w.WriteUInt(e.Target, bpvo)
			w.WriteUInt(e.Weight, h.w.weight)
			writeFlags(e.Flags)
		}
	}
	w.Align()
	for i := range c.Vertices {
		for _, e := range c.Vertices[i].External {
			writeRef(e.Target, h.w.adj)
			if shape.Zero {
				writeRef(e.Zero, h.w.lvlZero)
			}
			w.WriteUInt(e.Weight, h.w.weight)
			writeFlags(e.Flags)
		}
	}
	w.Align()

	if w.BitLen() != sec.end {
		return nil, fmt.Errorf("block layout mismatch: wrote %d bits, expected %d", w.BitLen(), sec.end)
	}
	return w.Bytes(), nil
}

// buildHeader derives counts and local widths, checking them against the
// global widths.
func buildHeader(c *Cluster, p Params, shape Shape) (*header, error) {
	n := len(c.Vertices)
	h := &header{
		level:      c.Level,
		numWithNH:  c.NumWithNeighborhood,
		numHigher:  c.NumHigher,
		numAdj:     uint32(len(c.Adj)),
		numSubj:    uint32(len(c.Subj)),
		numOverly:  uint32(len(c.Overly)),
		numLvlZero: uint32(len(c.LvlZero)),
	}
	if uint64(n) > uint64(^uint32(0)) || !fits(uint32(n), p.BitsPerVertexOffset) {
		return nil, invalid("%d vertices do not fit %d bits", n, p.BitsPerVertexOffset)
	}
	h.numVertices = uint32(n)
	if h.numWithNH > h.numVertices || h.numHigher > h.numVertices {
		return nil, invalid("prefix counts (%d with neighborhood, %d higher) exceed %d vertices", h.numWithNH, h.numHigher, n)
	}
	if h.numHigher > 0 && !shape.Above {
		return nil, invalid("top level %d cannot have %d higher vertices", c.Level, h.numHigher)
	}

	for name, list := range map[string][]uint32{"adj": c.Adj, "subj": c.Subj, "overly": c.Overly, "lvlZero": c.LvlZero} {
		if !fits(uint32(len(list)), p.BitsPerClusterID) {
			return nil, invalid("%s list length %d does not fit %d bits", name, len(list), p.BitsPerClusterID)
		}
		for _, id := range list {
			if !fits(id, p.BitsPerClusterID) {
				return nil, invalid("%s block id %d does not fit %d bits", name, id, p.BitsPerClusterID)
			}
		}
	}

	var maxWeight uint32
	for i := range c.Vertices {
		v := &c.Vertices[i]
		h.numInt += uint32(len(v.Internal))
		h.numExt += uint32(len(v.External))
		for _, e := range v.Internal {
			maxWeight = max(maxWeight, e.Weight)
		}
		for _, e := range v.External {
			maxWeight = max(maxWeight, e.Weight)
		}
		if uint32(i) < h.numWithNH && !fits(v.Neighborhood, p.BitsPerNeighborhood) {
			return nil, invalid("vertex %d neighborhood %d does not fit %d bits", i, v.Neighborhood, p.BitsPerNeighborhood)
		}
	}
	if !fits(h.numInt, p.BitsPerEdgeCount) || !fits(h.numExt, p.BitsPerEdgeCount) {
		return nil, invalid("edge counts %d/%d do not fit %d bits", h.numInt, h.numExt, p.BitsPerEdgeCount)
	}

	if shape.Coords && n > 0 {
		minLon, maxLon := c.Vertices[0].Lon, c.Vertices[0].Lon
		minLat, maxLat := c.Vertices[0].Lat, c.Vertices[0].Lat
		for i := range c.Vertices[1:] {
			v := &c.Vertices[i+1]
			minLon, maxLon = min(minLon, v.Lon), max(maxLon, v.Lon)
			minLat, maxLat = min(minLat, v.Lat), max(maxLat, v.Lat)
		}
		h.minLon, h.minLat = minLon, minLat
		h.w.lon = bitio.BitsFor(uint32(int64(maxLon) - int64(minLon)))
		h.w.lat = bitio.BitsFor(uint32(int64(maxLat) - int64(minLat)))
	}
	h.w.offsInt = bitio.BitsFor(h.numInt)
	h.w.offsExt = bitio.BitsFor(h.numExt)
	h.w.adj = indexBits(len(c.Adj))
	h.w.subj = indexBits(len(c.Subj))
	h.w.overly = indexBits(len(c.Overly))
	h.w.lvlZero = indexBits(len(c.LvlZero))
	h.w.weight = bitio.BitsFor(maxWeight)
	return h, nil
}

func validateRefs(c *Cluster, p Params, shape Shape) error {
	n := uint32(len(c.Vertices))
	checkRef := func(r Ref, list []uint32, what string, i int) error {
		if r.Block >= uint32(len(list)) {
			return invalid("vertex %d %s ref block index %d outside list of %d", i, what, r.Block, len(list))
		}
		if !fits(r.Offset, p.BitsPerVertexOffset) {
			return invalid("vertex %d %s ref offset %d does not fit %d bits", i, what, r.Offset, p.BitsPerVertexOffset)
		}
		return nil
	}
	for i := range c.Vertices {
		v := &c.Vertices[i]
		if shape.Below {
			if err := checkRef(v.Below, c.Subj, "subjacent", i); err != nil {
				return err
			}
		}
		if shape.Above && uint32(i) < c.NumHigher {
			if err := checkRef(v.Above, c.Overly, "overlying", i); err != nil {
				return err
			}
		}
		if shape.Zero {
			if err := checkRef(v.Zero, c.LvlZero, "level-zero", i); err != nil {
				return err
			}
		}
		for j, e := range v.Internal {
			if e.Target >= n {
				return invalid("vertex %d internal edge %d targets offset %d of %d", i, j, e.Target, n)
			}
		}
		for _, e := range v.External {
			if err := checkRef(e.Target, c.Adj, "external edge", i); err != nil {
				return err
			}
			if shape.Zero {
				if err := checkRef(e.Zero, c.LvlZero, "external edge level-zero", i); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
