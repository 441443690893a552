package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"hh_router/pkg/block"
	"hh_router/pkg/hherr"
)

const (
	magicBytes   = "HHROUTER"
	version      = uint32(1)
	headerLength = 128
	paramsLength = 5
)

// Section is a byte range [Start, End) of the graph file.
type Section struct {
	Start int64
	End   int64
}

// Len returns the section size in bytes.
func (s Section) Len() int64 { return s.End - s.Start }

// fileHeader is the fixed header at offset 0, big-endian, zero padded to
// headerLength bytes.
type fileHeader struct {
	Magic   [8]byte
	Version uint32
	Params  Section
	Blocks  Section
	Index   Section
	Spatial Section
}

func (h *fileHeader) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return nil, err
	}
	out := make([]byte, headerLength)
	copy(out, buf.Bytes())
	return out, nil
}

func readHeader(r io.ReaderAt, fileSize int64) (*fileHeader, error) {
	if fileSize < headerLength {
		return nil, fmt.Errorf("%w: file of %d bytes is shorter than the header", hherr.ErrFormat, fileSize)
	}
	raw := make([]byte, headerLength)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var h fileHeader
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(h.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("%w: invalid magic bytes: %q", hherr.ErrFormat, h.Magic)
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: unsupported version: %d", hherr.ErrFormat, h.Version)
	}
	for _, s := range []struct {
		name string
		sec  Section
	}{{"params", h.Params}, {"blocks", h.Blocks}, {"index", h.Index}, {"spatial", h.Spatial}} {
		if s.sec.Start < headerLength || s.sec.End < s.sec.Start || s.sec.End > fileSize {
			return nil, fmt.Errorf("%w: %s section [%d,%d) outside file of %d bytes",
				hherr.ErrFormat, s.name, s.sec.Start, s.sec.End, fileSize)
		}
	}
	if h.Params.Len() != paramsLength {
		return nil, fmt.Errorf("%w: params section is %d bytes, want %d", hherr.ErrFormat, h.Params.Len(), paramsLength)
	}
	return &h, nil
}

func encodeParams(p block.Params) []byte {
	return []byte{p.BitsPerClusterID, p.BitsPerVertexOffset, p.BitsPerEdgeCount, p.BitsPerNeighborhood, p.NumLevels}
}

func decodeParams(b []byte) (block.Params, error) {
	if len(b) != paramsLength {
		return block.Params{}, fmt.Errorf("%w: params of %d bytes", hherr.ErrFormat, len(b))
	}
	p := block.Params{
		BitsPerClusterID:    b[0],
		BitsPerVertexOffset: b[1],
		BitsPerEdgeCount:    b[2],
		BitsPerNeighborhood: b[3],
		NumLevels:           b[4],
	}
	if err := p.Validate(); err != nil {
		return block.Params{}, err
	}
	return p, nil
}
