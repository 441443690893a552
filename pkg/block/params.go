// Package block encodes and decodes one cluster of hierarchy vertices and
// edges as a bit-packed byte block.
package block

import (
	"fmt"
	"math"

	"hh_router/pkg/hherr"
)

// Infinite is the neighborhood value of a vertex that has none.
const Infinite = math.MaxUint32

// VertexID identifies a vertex at one level: block id shifted left by the
// vertex offset width, or'ed with the offset inside the block.
type VertexID uint32

// NoVertex marks an absent cross-level identity.
const NoVertex VertexID = math.MaxUint32

// Params are the global bit widths shared by every block of one file.
type Params struct {
	BitsPerClusterID    uint8
	BitsPerVertexOffset uint8
	BitsPerEdgeCount    uint8
	BitsPerNeighborhood uint8
	NumLevels           uint8
}

// Validate checks that the widths are usable.
func (p Params) Validate() error {
	for _, w := range []uint8{p.BitsPerClusterID, p.BitsPerVertexOffset, p.BitsPerEdgeCount, p.BitsPerNeighborhood} {
		if w > 32 {
			return fmt.Errorf("%w: bit width %d exceeds 32", hherr.ErrFormat, w)
		}
	}
	if int(p.BitsPerClusterID)+int(p.BitsPerVertexOffset) > 32 {
		return fmt.Errorf("%w: cluster id (%d bits) and vertex offset (%d bits) exceed 32 bits",
			hherr.ErrFormat, p.BitsPerClusterID, p.BitsPerVertexOffset)
	}
	if p.NumLevels == 0 {
		return fmt.Errorf("%w: zero levels", hherr.ErrFormat)
	}
	return nil
}

// Layout returns the vertex id layout implied by the params.
func (p Params) Layout() Layout {
	return Layout{offsetBits: uint(p.BitsPerVertexOffset)}
}

// Layout packs and unpacks vertex ids. Construct it from Params so that
// every component agrees on the offset width.
type Layout struct {
	offsetBits uint
}

// OffsetBits returns the width of the in-block offset.
func (l Layout) OffsetBits() uint { return l.offsetBits }

// Make builds the id of vertex offset inside block blockID.
func (l Layout) Make(blockID, offset uint32) (VertexID, error) {
	if uint64(offset) >= 1<<l.offsetBits {
		return NoVertex, fmt.Errorf("%w: vertex offset %d does not fit %d bits", hherr.ErrOutOfRange, offset, l.offsetBits)
	}
	id := uint64(blockID)<<l.offsetBits | uint64(offset)
	if id >= uint64(NoVertex) {
		return NoVertex, fmt.Errorf("%w: block %d offset %d overflows vertex id", hherr.ErrOutOfRange, blockID, offset)
	}
	return VertexID(id), nil
}

// Block returns the block part of id.
func (l Layout) Block(id VertexID) uint32 {
	return uint32(uint64(id) >> l.offsetBits)
}

// Offset returns the in-block offset of id.
func (l Layout) Offset(id VertexID) uint32 {
	return uint32(uint64(id) & (1<<l.offsetBits - 1))
}

// Class names the level shapes a block can take.
type Class uint8

const (
	LevelZero Class = iota // base graph, has coordinates
	LevelOne               // subjacent identity equals level-zero identity
	MidLevel               // all cross-level references present
	TopLevel               // no overlying references
)

func (c Class) String() string {
	switch c {
	case LevelZero:
		return "level-zero"
	case LevelOne:
		return "level-one"
	case MidLevel:
		return "mid-level"
	case TopLevel:
		return "top-level"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Shape says which level-conditioned sections a block carries. Encoder and
// decoder both derive it from ShapeOf, never from stored flags.
type Shape struct {
	Class  Class
	Coords bool // longitude/latitude section
	Below  bool // subjacent references
	Above  bool // overlying references
	Zero   bool // level-zero references
}

// ShapeOf returns the shape of a block at level in a file of numLevels.
func ShapeOf(level, numLevels uint8) (Shape, error) {
	if level >= numLevels {
		return Shape{}, fmt.Errorf("%w: level %d outside %d levels", hherr.ErrDecode, level, numLevels)
	}
	s := Shape{
		Coords: level == 0,
		Below:  level > 1,
		Above:  level < numLevels-1,
		Zero:   level > 0,
	}
	switch {
	case level == 0:
		s.Class = LevelZero
	case !s.Above:
		s.Class = TopLevel
	case level == 1:
		s.Class = LevelOne
	default:
		s.Class = MidLevel
	}
	return s, nil
}
