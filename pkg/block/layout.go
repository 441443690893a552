package block

import "hh_router/pkg/bitio"

// localWidthBits is the size of each of the nine per-block width fields.
const localWidthBits = 6

const numFlagBits = 4

// widths are the per-block field widths, minimal for the block's values.
type widths struct {
	lon, lat         uint
	offsInt, offsExt uint
	adj, subj        uint
	overly, lvlZero  uint
	weight           uint
}

func (w *widths) list() [9]*uint {
	return [9]*uint{&w.lon, &w.lat, &w.offsInt, &w.offsExt, &w.adj, &w.subj, &w.overly, &w.lvlZero, &w.weight}
}

type header struct {
	level                                  uint8
	numWithNH, numHigher, numVertices      uint32
	numInt, numExt                         uint32
	numAdj, numSubj, numOverly, numLvlZero uint32
	minLon, minLat                         int32
	w                                      widths
}

// sections holds the bit position of every section, relative to the
// block start.
type sections struct {
	adj, subj, overly, lvlZero uint64
	belowRefs                  uint64
	aboveRefs                  uint64
	zeroRefs                   uint64
	nh                         uint64
	lon, lat                   uint64
	offsInt, offsExt           uint64
	edgesInt, edgesExt         uint64
	end                        uint64

	belowBits, aboveBits, zeroBits uint64
	intEdgeBits, extEdgeBits       uint64
}

func headerBits(p Params) uint64 {
	bpvo := uint64(p.BitsPerVertexOffset)
	n := 8 + 3*bpvo + 2*uint64(p.BitsPerEdgeCount) + 4*uint64(p.BitsPerClusterID) + 64 + 9*localWidthBits
	return bitio.Align8(n)
}

// layoutSections computes section positions. A section absent for the
// block's shape has zero length.
func layoutSections(h *header, p Params, s Shape) sections {
	var sec sections
	bpc := uint64(p.BitsPerClusterID)
	bpvo := uint64(p.BitsPerVertexOffset)
	n := uint64(h.numVertices)

	sec.intEdgeBits = bpvo + uint64(h.w.weight) + numFlagBits
	sec.extEdgeBits = uint64(h.w.adj) + bpvo + uint64(h.w.weight) + numFlagBits
	if s.Below {
		sec.belowBits = uint64(h.w.subj) + bpvo
	}
	if s.Above {
		sec.aboveBits = uint64(h.w.overly) + bpvo
	}
	if s.Zero {
		sec.zeroBits = uint64(h.w.lvlZero) + bpvo
		sec.extEdgeBits += uint64(h.w.lvlZero) + bpvo
	}

	pos := headerBits(p)
	next := func(count, width uint64) uint64 {
		start := pos
		pos += bitio.Align8(count * width)
		return start
	}

	sec.adj = next(uint64(h.numAdj), bpc)
	sec.subj = next(uint64(h.numSubj), bpc)
	sec.overly = next(uint64(h.numOverly), bpc)
	sec.lvlZero = next(uint64(h.numLvlZero), bpc)
	sec.belowRefs = next(n, sec.belowBits)
	sec.aboveRefs = next(uint64(h.numHigher), sec.aboveBits)
	sec.zeroRefs = next(n, sec.zeroBits)
	sec.nh = next(uint64(h.numWithNH), uint64(p.BitsPerNeighborhood))
	if s.Coords {
		sec.lon = next(n, uint64(h.w.lon))
		sec.lat = next(n, uint64(h.w.lat))
	} else {
		sec.lon, sec.lat = pos, pos
	}
	sec.offsInt = next(n+1, uint64(h.w.offsInt))
	sec.offsExt = next(n+1, uint64(h.w.offsExt))
	sec.edgesInt = next(uint64(h.numInt), sec.intEdgeBits)
	sec.edgesExt = next(uint64(h.numExt), sec.extEdgeBits)
	sec.end = pos
	return sec
}

// indexBits is the width of an index into a list of n entries.
func indexBits(n int) uint {
	if n <= 1 {
		return 0
	}
	return bitio.BitsFor(uint32(n - 1))
}
