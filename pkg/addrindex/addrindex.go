// Package addrindex maps block ids to (offset, length) pairs using grouped
// delta encoding of block sizes.
//
// Block sizes must be non-decreasing by id. Within each group only the
// first block's address and length are stored explicitly; every following
// block stores the growth of its length over its predecessor with the
// group's minimal bit width.
package addrindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"hh_router/pkg/bitio"
	"hh_router/pkg/hherr"
)

// MinGroupSize is the smallest group size SpaceOptimal tries.
const MinGroupSize = 5

const (
	headerBytes   = 12
	groupBytes    = 17
	encLenBytes   = 4
	maxIndexBytes = 1 << 30
)

// ErrUnsorted is returned when block sizes decrease.
var ErrUnsorted = errors.New("block sizes are not sorted ascending")

// Pointer locates one block inside the cluster-block region.
type Pointer struct {
	Offset uint64
	Length uint32
}

// End returns the offset just past the block.
func (p Pointer) End() uint64 { return p.Offset + uint64(p.Length) }

type group struct {
	startAddr int64
	encOffset int32
	firstLen  int32
	deltaBits int8
}

// Index is an immutable compressed address table.
type Index struct {
	groupSize int
	numBlocks int
	groups    []group
	enc       []byte
}

// New builds an index over sizes with the given group size.
func New(sizes []uint32, groupSize int) (*Index, error) {
	if groupSize < 1 {
		return nil, fmt.Errorf("group size %d must be positive", groupSize)
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] < sizes[i-1] {
			return nil, fmt.Errorf("%w: size[%d]=%d < size[%d]=%d", ErrUnsorted, i, sizes[i], i-1, sizes[i-1])
		}
	}
	if len(sizes) > 0 && sizes[len(sizes)-1] > 1<<31-1 {
		return nil, fmt.Errorf("block size %d exceeds int32", sizes[len(sizes)-1])
	}

	idx := &Index{groupSize: groupSize, numBlocks: len(sizes)}
	w := bitio.NewWriter(len(sizes))
	var addr int64
	for start := 0; start < len(sizes); start += groupSize {
		end := min(start+groupSize, len(sizes))
		var maxDelta uint32
		for i := start + 1; i < end; i++ {
			maxDelta = max(maxDelta, sizes[i]-sizes[i-1])
		}
		g := group{
			startAddr: addr,
			encOffset: int32(w.BitLen() >> 3),
			firstLen:  int32(sizes[start]),
			deltaBits: int8(bitio.BitsFor(maxDelta)),
		}
		for i := start + 1; i < end; i++ {
			w.WriteUInt(sizes[i]-sizes[i-1], uint(g.deltaBits))
		}
		w.Align()
		for i := start; i < end; i++ {
			addr += int64(sizes[i])
		}
		idx.groups = append(idx.groups, g)
	}
	idx.enc = w.Bytes()
	return idx, nil
}

// SpaceOptimal builds indexes for every group size from MinGroupSize up to
// min(maxGroupSize, len(sizes)) and returns the first smallest one.
func SpaceOptimal(sizes []uint32, maxGroupSize int) (*Index, error) {
	hi := min(maxGroupSize, len(sizes))
	hi = max(hi, 1)
	lo := min(MinGroupSize, hi)

	var best *Index
	for gs := lo; gs <= hi; gs++ {
		idx, err := New(sizes, gs)
		if err != nil {
			return nil, err
		}
		if best == nil || idx.ByteSize() < best.ByteSize() {
			best = idx
		}
	}
	return best, nil
}

// Len returns the number of indexed blocks.
func (x *Index) Len() int { return x.numBlocks }

// GroupSize returns the group size.
func (x *Index) GroupSize() int { return x.groupSize }

// ByteSize returns the serialized size in bytes.
func (x *Index) ByteSize() int {
	return headerBytes + groupBytes*len(x.groups) + encLenBytes + len(x.enc)
}

// Pointer returns the location of block id. Cost is linear in the group
// size.
func (x *Index) Pointer(id uint32) (Pointer, error) {
	if int64(id) >= int64(x.numBlocks) {
		return Pointer{}, fmt.Errorf("%w: block %d of %d", hherr.ErrOutOfRange, id, x.numBlocks)
	}
	g := x.groups[int(id)/x.groupSize]
	r := bitio.NewReader(x.enc)
	r.Seek(uint64(g.encOffset) << 3)
	addr := uint64(g.startAddr)
	size := uint64(g.firstLen)
	for range int(id) % x.groupSize {
		addr += size
		d, err := r.ReadUInt(uint(g.deltaBits))
		if err != nil {
			return Pointer{}, fmt.Errorf("block %d: %w", id, err)
		}
		size += uint64(d)
	}
	if size > 1<<32-1 {
		return Pointer{}, fmt.Errorf("%w: block %d length overflows", hherr.ErrDecode, id)
	}
	return Pointer{Offset: addr, Length: uint32(size)}, nil
}

// MarshalBinary serializes the index, big-endian.
func (x *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(x.ByteSize())
	if _, err := x.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the serialized index to w.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, x.ByteSize())
	buf = binary.BigEndian.AppendUint32(buf, uint32(x.groupSize))
	buf = binary.BigEndian.AppendUint32(buf, uint32(x.numBlocks))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(x.groups)))
	for _, g := range x.groups {
		buf = binary.BigEndian.AppendUint64(buf, uint64(g.startAddr))
		buf = binary.BigEndian.AppendUint32(buf, uint32(g.encOffset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(g.firstLen))
		buf = append(buf, byte(g.deltaBits))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(x.enc)))
	buf = append(buf, x.enc...)
	n, err := w.Write(buf)
	return int64(n), err
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: address index: %s", hherr.ErrFormat, fmt.Sprintf(format, args...))
}

// Unmarshal parses a serialized index and validates its structure.
func Unmarshal(data []byte) (*Index, error) {
	if len(data) < headerBytes+encLenBytes {
		return nil, formatErr("%d bytes is shorter than the header", len(data))
	}
	groupSize := int32(binary.BigEndian.Uint32(data[0:]))
	numBlocks := int32(binary.BigEndian.Uint32(data[4:]))
	numGroups := int32(binary.BigEndian.Uint32(data[8:]))
	if groupSize < 1 || numBlocks < 0 || numGroups < 0 {
		return nil, formatErr("invalid header (group size %d, blocks %d, groups %d)", groupSize, numBlocks, numGroups)
	}
	if want := (int64(numBlocks) + int64(groupSize) - 1) / int64(groupSize); int64(numGroups) != want {
		return nil, formatErr("%d groups for %d blocks of group size %d", numGroups, numBlocks, groupSize)
	}
	pos := headerBytes
	if int64(len(data)) < int64(pos)+int64(numGroups)*groupBytes+encLenBytes {
		return nil, formatErr("truncated group table")
	}

	x := &Index{groupSize: int(groupSize), numBlocks: int(numBlocks), groups: make([]group, numGroups)}
	for i := range x.groups {
		g := &x.groups[i]
		g.startAddr = int64(binary.BigEndian.Uint64(data[pos:]))
		g.encOffset = int32(binary.BigEndian.Uint32(data[pos+8:]))
		g.firstLen = int32(binary.BigEndian.Uint32(data[pos+12:]))
		g.deltaBits = int8(data[pos+16])
		pos += groupBytes
		if g.startAddr < 0 || g.encOffset < 0 || g.firstLen < 0 || g.deltaBits < 0 || g.deltaBits > 32 {
			return nil, formatErr("group %d has invalid fields", i)
		}
	}
	encLen := int32(binary.BigEndian.Uint32(data[pos:]))
	pos += encLenBytes
	if encLen < 0 || int64(encLen) > int64(len(data)-pos) || encLen > maxIndexBytes {
		return nil, formatErr("encoded length %d exceeds remaining %d bytes", encLen, len(data)-pos)
	}
	x.enc = append([]byte(nil), data[pos:pos+int(encLen)]...)
	for i, g := range x.groups {
		if int64(g.encOffset) > int64(encLen) {
			return nil, formatErr("group %d offset %d outside %d encoded bytes", i, g.encOffset, encLen)
		}
	}
	return x, nil
}
