// Package bitio reads and writes MSB-first bit-packed fields.
package bitio

import (
	"fmt"
	"math/bits"

	"hh_router/pkg/hherr"
)

var (
	// ErrOutOfBounds is returned for a read that runs past the buffer.
	ErrOutOfBounds = fmt.Errorf("%w: read past end of buffer", hherr.ErrDecode)
	// ErrWidth is returned for a field wider than 32 bits.
	ErrWidth = fmt.Errorf("%w: field width exceeds 32 bits", hherr.ErrDecode)
)

// BitsFor returns the number of bits needed to represent v (0 for v == 0).
func BitsFor(v uint32) uint {
	return uint(bits.Len32(v))
}

// Align8 rounds a bit count up to the next byte boundary.
func Align8(nbits uint64) uint64 {
	return (nbits + 7) &^ 7
}

// UintAt reads an n-bit unsigned field starting at bit position pos.
func UintAt(buf []byte, pos uint64, n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 32 {
		return 0, ErrWidth
	}
	end := pos + uint64(n)
	if end > uint64(len(buf))*8 {
		return 0, ErrOutOfBounds
	}
	first := pos >> 3
	last := (end - 1) >> 3
	var acc uint64
	for i := first; i <= last; i++ {
		acc = acc<<8 | uint64(buf[i])
	}
	acc >>= (last+1)*8 - end
	return uint32(acc & (1<<n - 1)), nil
}

// Reader is a sequential cursor over a byte buffer.
type Reader struct {
	buf []byte
	pos uint64
}

// NewReader returns a reader positioned at bit 0 of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// BitPos returns the current bit position.
func (r *Reader) BitPos() uint64 { return r.pos }

// Seek moves the cursor to an absolute bit position.
func (r *Reader) Seek(pos uint64) { r.pos = pos }

// Align advances the cursor to the next byte boundary.
func (r *Reader) Align() { r.pos = Align8(r.pos) }

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (bool, error) {
	v, err := r.ReadUInt(1)
	return v == 1, err
}

// ReadUInt reads an n-bit unsigned field, 0 <= n <= 32.
func (r *Reader) ReadUInt(n uint) (uint32, error) {
	v, err := UintAt(r.buf, r.pos, n)
	if err != nil {
		return 0, err
	}
	r.pos += uint64(n)
	return v, nil
}

// ReadUint8 reads 8 bits.
func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.ReadUInt(8)
	return uint8(v), err
}

// ReadInt16 reads a 16-bit two's complement value.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUInt(16)
	return int16(uint16(v)), err
}

// ReadInt32 reads a 32-bit two's complement value.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUInt(32)
	return int32(v), err
}

// ReadInt64 reads a 64-bit two's complement value.
func (r *Reader) ReadInt64() (int64, error) {
	hi, err := r.ReadUInt(32)
	if err != nil {
		return 0, err
	}
	lo, err := r.ReadUInt(32)
	if err != nil {
		return 0, err
	}
	return int64(uint64(hi)<<32 | uint64(lo)), nil
}

// Writer appends bit-packed fields to a growing buffer.
type Writer struct {
	buf []byte
	pos uint64
}

// NewWriter returns an empty writer with room for sizeHint bytes.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// BitLen returns the number of bits written so far.
func (w *Writer) BitLen() uint64 { return w.pos }

// Bytes returns the written bytes; a partial last byte is zero padded.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) grow(nbits uint64) {
	need := int(Align8(w.pos+nbits) >> 3)
	for len(w.buf) < need {
		w.buf = append(w.buf, 0)
	}
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(b bool) {
	var v uint32
	if b {
		v = 1
	}
	w.WriteUInt(v, 1)
}

// WriteUInt writes the low n bits of v. Higher bits are discarded.
func (w *Writer) WriteUInt(v uint32, n uint) {
	if n == 0 {
		return
	}
	if n > 32 {
		n = 32
	}
	w.grow(uint64(n))
	val := uint64(v) & (1<<n - 1)
	for n > 0 {
		off := uint(w.pos & 7)
		free := 8 - off
		take := min(free, n)
		chunk := (val >> (n - take)) & (1<<take - 1)
		w.buf[w.pos>>3] |= byte(chunk << (free - take))
		w.pos += uint64(take)
		n -= take
	}
}

// WriteUint8 writes 8 bits.
func (w *Writer) WriteUint8(v uint8) { w.WriteUInt(uint32(v), 8) }

// WriteInt16 writes a 16-bit two's complement value.
func (w *Writer) WriteInt16(v int16) { w.WriteUInt(uint32(uint16(v)), 16) }

// WriteInt32 writes a 32-bit two's complement value.
func (w *Writer) WriteInt32(v int32) { w.WriteUInt(uint32(v), 32) }

// WriteInt64 writes a 64-bit two's complement value.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUInt(uint32(uint64(v)>>32), 32)
	w.WriteUInt(uint32(v), 32)
}

// Align pads with zero bits up to the next byte boundary.
func (w *Writer) Align() {
	w.grow(Align8(w.pos) - w.pos)
	w.pos = Align8(w.pos)
}
