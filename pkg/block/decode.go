package block

import (
	"fmt"
	"math"

	"hh_router/pkg/bitio"
	"hh_router/pkg/hherr"
)

// Block is a decoded view over one serialized cluster. Accessors compute
// field positions directly; nothing is materialized up front.
type Block struct {
	id     uint32
	data   []byte
	p      Params
	layout Layout
	shape  Shape
	h      header
	sec    sections
}

func corrupt(blockID uint32, format string, args ...any) error {
	return fmt.Errorf("%w: block %d: %s", hherr.ErrDecode, blockID, fmt.Sprintf(format, args...))
}

// Decode parses the header of the block stored in data and checks that all
// sections fit. The returned block keeps a reference to data.
func Decode(data []byte, p Params, blockID uint32) (*Block, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := &Block{id: blockID, p: p, layout: p.Layout()}
	r := bitio.NewReader(data)
	bpc := uint(p.BitsPerClusterID)
	bpvo := uint(p.BitsPerVertexOffset)
	bpec := uint(p.BitsPerEdgeCount)

	var err error
	read := func(n uint) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = r.ReadUInt(n)
		return v
	}
	h := &b.h
	h.level = uint8(read(8))
	h.numWithNH = read(bpvo)
	h.numHigher = read(bpvo)
	h.numVertices = read(bpvo)
	h.numInt = read(bpec)
	h.numExt = read(bpec)
	h.numAdj = read(bpc)
	h.numSubj = read(bpc)
	h.numOverly = read(bpc)
	h.numLvlZero = read(bpc)
	h.minLon = int32(read(32))
	h.minLat = int32(read(32))
	for _, lw := range h.w.list() {
		*lw = uint(read(localWidthBits))
		if *lw > 32 {
			return nil, corrupt(blockID, "local width %d exceeds 32 bits", *lw)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("block %d: read header: %w", blockID, err)
	}

	if b.shape, err = ShapeOf(h.level, p.NumLevels); err != nil {
		return nil, fmt.Errorf("block %d: %w", blockID, err)
	}
	if h.numWithNH > h.numVertices || h.numHigher > h.numVertices {
		return nil, corrupt(blockID, "prefix counts %d/%d exceed %d vertices", h.numWithNH, h.numHigher, h.numVertices)
	}
	if h.numHigher > 0 && !b.shape.Above {
		return nil, corrupt(blockID, "top level block declares %d higher vertices", h.numHigher)
	}

	b.sec = layoutSections(h, p, b.shape)
	if b.sec.end > uint64(len(data))*8 {
		return nil, corrupt(blockID, "sections need %d bytes, have %d", b.sec.end>>3, len(data))
	}
	b.data = data[:b.sec.end>>3]
	return b, nil
}

// ID returns the block id.
func (b *Block) ID() uint32 { return b.id }

// Level returns the hierarchy level of the block.
func (b *Block) Level() uint8 { return b.h.level }

// Shape returns the level shape of the block.
func (b *Block) Shape() Shape { return b.shape }

// NumVertices returns the vertex count.
func (b *Block) NumVertices() uint32 { return b.h.numVertices }

// SizeBytes returns the serialized size.
func (b *Block) SizeBytes() int { return len(b.data) }

// Layout returns the vertex id layout of the block's file.
func (b *Block) Layout() Layout { return b.layout }

// field reads entry i of a fixed-width section.
func (b *Block) field(start uint64, i uint32, width uint) uint32 {
	// Decode verified every section lies inside data.
	v, _ := bitio.UintAt(b.data, start+uint64(i)*uint64(width), width)
	return v
}

func (b *Block) listEntry(start uint64, count, i uint32, what string) (uint32, error) {
	if i >= count {
		return 0, corrupt(b.id, "%s list index %d outside %d entries", what, i, count)
	}
	return b.field(start, i, uint(b.p.BitsPerClusterID)), nil
}

func (b *Block) ref(start uint64, i uint32, entryBits uint64, blockBits uint) Ref {
	pos := start + uint64(i)*entryBits
	blk, _ := bitio.UintAt(b.data, pos, blockBits)
	off, _ := bitio.UintAt(b.data, pos+uint64(blockBits), uint(b.p.BitsPerVertexOffset))
	return Ref{Block: blk, Offset: off}
}

// resolve turns a list-relative reference into a vertex id.
func (b *Block) resolve(r Ref, listStart uint64, count uint32, what string) (VertexID, error) {
	blk, err := b.listEntry(listStart, count, r.Block, what)
	if err != nil {
		return NoVertex, err
	}
	id, err := b.layout.Make(blk, r.Offset)
	if err != nil {
		return NoVertex, corrupt(b.id, "%s reference: %v", what, err)
	}
	return id, nil
}

func (b *Block) zeroID(i uint32) (VertexID, error) {
	if !b.shape.Zero {
		return b.layout.Make(b.id, i)
	}
	r := b.ref(b.sec.zeroRefs, i, b.sec.zeroBits, b.h.w.lvlZero)
	return b.resolve(r, b.sec.lvlZero, b.h.numLvlZero, "level-zero")
}

func (b *Block) edgeRange(offsStart uint64, width uint, total, i uint32) (first, count uint32, err error) {
	lo := b.field(offsStart, i, width)
	hi := b.field(offsStart, i+1, width)
	if lo > hi || hi > total {
		return 0, 0, corrupt(b.id, "vertex %d edge range [%d,%d) outside %d edges", i, lo, hi, total)
	}
	return lo, hi - lo, nil
}

// Vertex decodes vertex i into v.
func (b *Block) Vertex(i uint32, v *Vertex) error {
	if i >= b.h.numVertices {
		return fmt.Errorf("%w: block %d vertex %d of %d", hherr.ErrOutOfRange, b.id, i, b.h.numVertices)
	}
	id, err := b.layout.Make(b.id, i)
	if err != nil {
		return err
	}
	*v = Vertex{ID: id, Below: NoVertex, Above: NoVertex, Level: b.h.level, Neighborhood: Infinite}

	if v.Zero, err = b.zeroID(i); err != nil {
		return err
	}
	switch {
	case b.shape.Below:
		r := b.ref(b.sec.belowRefs, i, b.sec.belowBits, b.h.w.subj)
		if v.Below, err = b.resolve(r, b.sec.subj, b.h.numSubj, "subjacent"); err != nil {
			return err
		}
	case b.h.level == 1:
		v.Below = v.Zero
	}
	if b.shape.Above && i < b.h.numHigher {
		r := b.ref(b.sec.aboveRefs, i, b.sec.aboveBits, b.h.w.overly)
		if v.Above, err = b.resolve(r, b.sec.overly, b.h.numOverly, "overlying"); err != nil {
			return err
		}
	}
	if i < b.h.numWithNH {
		v.Neighborhood = b.field(b.sec.nh, i, uint(b.p.BitsPerNeighborhood))
	}
	if b.shape.Coords {
		v.Lon = int32(int64(b.h.minLon) + int64(b.field(b.sec.lon, i, b.h.w.lon)))
		v.Lat = int32(int64(b.h.minLat) + int64(b.field(b.sec.lat, i, b.h.w.lat)))
	}
	if v.FirstInternal, v.NumInternal, err = b.edgeRange(b.sec.offsInt, b.h.w.offsInt, b.h.numInt, i); err != nil {
		return err
	}
	if v.FirstExternal, v.NumExternal, err = b.edgeRange(b.sec.offsExt, b.h.w.offsExt, b.h.numExt, i); err != nil {
		return err
	}
	return nil
}

func (b *Block) flags(pos uint64) Flags {
	bits, _ := bitio.UintAt(b.data, pos, numFlagBits)
	return Flags{
		Shortcut: bits&0b1000 != 0,
		Forward:  bits&0b0100 != 0,
		Backward: bits&0b0010 != 0,
		Core:     bits&0b0001 != 0,
	}
}

// OutboundEdge decodes the i-th outbound edge of v into e. Internal edges
// come first, then external edges.
func (b *Block) OutboundEdge(v *Vertex, i uint32, e *Edge) error {
	if b.layout.Block(v.ID) != b.id {
		return fmt.Errorf("%w: vertex %d does not belong to block %d", hherr.ErrOutOfRange, v.ID, b.id)
	}
	if i >= v.NumOutbound() {
		return fmt.Errorf("%w: edge %d of vertex %d with %d edges", hherr.ErrOutOfRange, i, v.ID, v.NumOutbound())
	}
	bpvo := uint(b.p.BitsPerVertexOffset)
	*e = Edge{Source: v.ID}

	if i < v.NumInternal {
		idx := v.FirstInternal + i
		if idx >= b.h.numInt {
			return corrupt(b.id, "internal edge %d of %d", idx, b.h.numInt)
		}
		pos := b.sec.edgesInt + uint64(idx)*b.sec.intEdgeBits
		target, _ := bitio.UintAt(b.data, pos, bpvo)
		pos += uint64(bpvo)
		e.Weight, _ = bitio.UintAt(b.data, pos, b.h.w.weight)
		e.Flags = b.flags(pos + uint64(b.h.w.weight))
		e.Internal = true
		if target >= b.h.numVertices {
			return corrupt(b.id, "internal edge %d targets offset %d of %d", idx, target, b.h.numVertices)
		}
		var err error
		if e.Target, err = b.layout.Make(b.id, target); err != nil {
			return err
		}
		e.TargetZero, err = b.zeroID(target)
		return err
	}

	idx := v.FirstExternal + (i - v.NumInternal)
	if idx >= b.h.numExt {
		return corrupt(b.id, "external edge %d of %d", idx, b.h.numExt)
	}
	pos := b.sec.edgesExt + uint64(idx)*b.sec.extEdgeBits
	target := b.ref(pos, 0, 0, b.h.w.adj)
	pos += uint64(b.h.w.adj) + uint64(bpvo)
	var err error
	if e.Target, err = b.resolve(target, b.sec.adj, b.h.numAdj, "adjacent"); err != nil {
		return err
	}
	if b.shape.Zero {
		zero := b.ref(pos, 0, 0, b.h.w.lvlZero)
		pos += uint64(b.h.w.lvlZero) + uint64(bpvo)
		if e.TargetZero, err = b.resolve(zero, b.sec.lvlZero, b.h.numLvlZero, "level-zero"); err != nil {
			return err
		}
	} else {
		e.TargetZero = e.Target
	}
	e.Weight, _ = bitio.UintAt(b.data, pos, b.h.w.weight)
	e.Flags = b.flags(pos + uint64(b.h.w.weight))
	return nil
}

// Bounds returns a box covering every vertex of a level-zero block. It is
// derived from the stored minima and field widths, so it may be larger than
// the exact extent.
func (b *Block) Bounds() (minLon, maxLon, minLat, maxLat int32, ok bool) {
	if !b.shape.Coords || b.h.numVertices == 0 {
		return 0, 0, 0, 0, false
	}
	return b.h.minLon, spanEnd(b.h.minLon, b.h.w.lon), b.h.minLat, spanEnd(b.h.minLat, b.h.w.lat), true
}

func spanEnd(start int32, width uint) int32 {
	end := int64(start) + int64(uint64(1)<<width-1)
	if end > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(end)
}

// Cluster materializes the whole block back into its value form.
func (b *Block) Cluster() (*Cluster, error) {
	h := &b.h
	c := &Cluster{
		Level:               h.level,
		NumWithNeighborhood: h.numWithNH,
		NumHigher:           h.numHigher,
	}
	readList := func(start uint64, count uint32) []uint32 {
		if count == 0 {
			return nil
		}
		list := make([]uint32, count)
		for i := range list {
			list[i] = b.field(start, uint32(i), uint(b.p.BitsPerClusterID))
		}
		return list
	}
	c.Adj = readList(b.sec.adj, h.numAdj)
	c.Subj = readList(b.sec.subj, h.numSubj)
	c.Overly = readList(b.sec.overly, h.numOverly)
	c.LvlZero = readList(b.sec.lvlZero, h.numLvlZero)

	if h.numVertices > 0 {
		c.Vertices = make([]VertexRecord, h.numVertices)
	}
	var v Vertex
	var e Edge
	bpvo := uint(b.p.BitsPerVertexOffset)
	for i := range c.Vertices {
		rec := &c.Vertices[i]
		idx := uint32(i)
		if err := b.Vertex(idx, &v); err != nil {
			return nil, err
		}
		rec.Neighborhood = v.Neighborhood
		rec.Lon, rec.Lat = v.Lon, v.Lat
		if b.shape.Below {
			rec.Below = b.ref(b.sec.belowRefs, idx, b.sec.belowBits, h.w.subj)
		}
		if b.shape.Above && idx < h.numHigher {
			rec.Above = b.ref(b.sec.aboveRefs, idx, b.sec.aboveBits, h.w.overly)
		}
		if b.shape.Zero {
			rec.Zero = b.ref(b.sec.zeroRefs, idx, b.sec.zeroBits, h.w.lvlZero)
		}
		for j := range v.NumInternal {
			if err := b.OutboundEdge(&v, j, &e); err != nil {
				return nil, err
			}
			rec.Internal = append(rec.Internal, InternalEdge{Target: b.layout.Offset(e.Target), Weight: e.Weight, Flags: e.Flags})
		}
		for j := range v.NumExternal {
			if err := b.OutboundEdge(&v, v.NumInternal+j, &e); err != nil {
				return nil, err
			}
			pos := b.sec.edgesExt + uint64(v.FirstExternal+j)*b.sec.extEdgeBits
			ext := ExternalEdge{Target: b.ref(pos, 0, 0, h.w.adj), Weight: e.Weight, Flags: e.Flags}
			if b.shape.Zero {
				ext.Zero = b.ref(pos+uint64(h.w.adj)+uint64(bpvo), 0, 0, h.w.lvlZero)
			}
			rec.External = append(rec.External, ext)
		}
	}
	return c, nil
}
