package spatial

import (
	"encoding/binary"
	"fmt"
	"io"

	"hh_router/pkg/hherr"
)

// maxDepth bounds the descent; a packed tree over 2^32 entries with the
// minimum fanout is 32 levels deep.
const maxDepth = 40

// Tree queries a packed R-tree through random-access page reads. It keeps
// one scratch page and must not be used concurrently.
type Tree struct {
	r        io.ReaderAt
	start    int64
	pageSize int
	numPages uint32
	page     []byte
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: spatial index: %s", hherr.ErrDecode, fmt.Sprintf(format, args...))
}

// Open reads the header page of the region [start, end) of r.
func Open(r io.ReaderAt, start, end int64) (*Tree, error) {
	if end-start < int64(fileHeaderBytes) {
		return nil, fmt.Errorf("%w: spatial region of %d bytes", hherr.ErrFormat, end-start)
	}
	var hdr [fileHeaderBytes]byte
	if _, err := r.ReadAt(hdr[:], start); err != nil {
		return nil, fmt.Errorf("read spatial header: %w", err)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: invalid spatial magic %q", hherr.ErrFormat, hdr[:len(Magic)])
	}
	pageSize := int(int32(binary.BigEndian.Uint32(hdr[len(Magic):])))
	if Capacity(pageSize) < minCapacity || pageSize < fileHeaderBytes {
		return nil, fmt.Errorf("%w: invalid page size %d", hherr.ErrFormat, pageSize)
	}
	size := end - start
	if size%int64(pageSize) != 0 || size/int64(pageSize) < 2 || size/int64(pageSize) > 1<<32-1 {
		return nil, fmt.Errorf("%w: spatial region of %d bytes is not a whole number of %d byte pages", hherr.ErrFormat, size, pageSize)
	}
	return &Tree{
		r:        r,
		start:    start,
		pageSize: pageSize,
		numPages: uint32(size / int64(pageSize)),
		page:     make([]byte, pageSize),
	}, nil
}

// NumPages returns the page count including the header page.
func (t *Tree) NumPages() uint32 { return t.numPages }

type pageView struct {
	leaf  bool
	count int
	data  []byte
}

func (p pageView) entry(i int) Entry {
	b := p.data[pageHeaderBytes+i*entryBytes:]
	return Entry{
		Rect: Rect{
			MinLon: int32(binary.BigEndian.Uint32(b)),
			MaxLon: int32(binary.BigEndian.Uint32(b[4:])),
			MinLat: int32(binary.BigEndian.Uint32(b[8:])),
			MaxLat: int32(binary.BigEndian.Uint32(b[12:])),
		},
		Pointer: binary.BigEndian.Uint32(b[16:]),
	}
}

func (t *Tree) readPage(id uint32) (pageView, error) {
	if _, err := t.r.ReadAt(t.page, t.start+int64(id)*int64(t.pageSize)); err != nil {
		return pageView{}, fmt.Errorf("read spatial page %d: %w", id, err)
	}
	count := int(int16(binary.BigEndian.Uint16(t.page[1:])))
	if count < 0 || count > Capacity(t.pageSize) {
		return pageView{}, decodeErr("page %d declares %d entries", id, count)
	}
	return pageView{leaf: t.page[0] != 0, count: count, data: t.page}, nil
}

type frame struct {
	id    uint32
	depth int
}

// walk visits every leaf entry reachable through nodes accepted by descend.
func (t *Tree) walk(descend func(Rect) bool, visit func(Entry)) error {
	stack := []frame{{id: 1}}
	visited := uint32(0)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if visited >= t.numPages*2 {
			return decodeErr("page graph is not a tree")
		}
		if f.depth > maxDepth {
			return decodeErr("depth exceeds %d at page %d", maxDepth, f.id)
		}
		p, err := t.readPage(f.id)
		if err != nil {
			return err
		}
		// Children are pushed after parsing since readPage reuses the buffer.
		for i := range p.count {
			e := p.entry(i)
			if !descend(e.Rect) {
				continue
			}
			if p.leaf {
				visit(e)
				continue
			}
			if e.Pointer < 2 || e.Pointer >= t.numPages {
				return decodeErr("page %d child id %d outside [2, %d)", f.id, e.Pointer, t.numPages)
			}
			stack = append(stack, frame{id: e.Pointer, depth: f.depth + 1})
		}
	}
	return nil
}

// Overlaps returns the pointers of all entries intersecting q.
func (t *Tree) Overlaps(q Rect) ([]uint32, error) {
	var out []uint32
	err := t.walk(q.Overlaps, func(e Entry) { out = append(out, e.Pointer) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entries returns every leaf entry.
func (t *Tree) Entries() ([]Entry, error) {
	var out []Entry
	all := func(Rect) bool { return true }
	if err := t.walk(all, func(e Entry) { out = append(out, e) }); err != nil {
		return nil, err
	}
	return out, nil
}
