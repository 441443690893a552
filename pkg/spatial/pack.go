package spatial

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

const (
	// Magic opens the header page.
	Magic = "HHRTREE\x00"

	pageHeaderBytes = 3
	entryBytes      = 20
	fileHeaderBytes = len(Magic) + 4
	minCapacity     = 2
)

// Capacity returns the number of entries a page of pageSize bytes holds.
func Capacity(pageSize int) int {
	return (pageSize - pageHeaderBytes) / entryBytes
}

type node struct {
	leaf    bool
	entries []Entry
	id      uint32
}

func (n *node) bounds() Rect {
	r := n.entries[0].Rect
	for _, e := range n.entries[1:] {
		r = r.Union(e.Rect)
	}
	return r
}

// strLevel packs one tree level with Sort-Tile-Recursive: sort by center
// longitude, cut into ceil(sqrt(nodes)) slices, sort each slice by center
// latitude and fill nodes of capacity b.
func strLevel(items []Entry, b int, leaf bool) []*node {
	numNodes := (len(items) + b - 1) / b
	numSlices := int(math.Ceil(math.Sqrt(float64(numNodes))))
	sliceLen := numSlices * b

	slices.SortStableFunc(items, func(x, y Entry) int { return cmp.Compare(x.centerLon(), y.centerLon()) })
	nodes := make([]*node, 0, numNodes)
	for start := 0; start < len(items); start += sliceLen {
		slice := items[start:min(start+sliceLen, len(items))]
		slices.SortStableFunc(slice, func(x, y Entry) int { return cmp.Compare(x.centerLat(), y.centerLat()) })
		for i := 0; i < len(slice); i += b {
			nodes = append(nodes, &node{leaf: leaf, entries: slice[i:min(i+b, len(slice))]})
		}
	}
	return nodes
}

// Pack bulk-loads entries into the serialized page region. Page 0 is the
// header, page 1 the root; remaining nodes are numbered from 2, leaves
// first.
func Pack(entries []Entry, pageSize int) ([]byte, error) {
	b := Capacity(pageSize)
	if b < minCapacity || pageSize < fileHeaderBytes {
		return nil, fmt.Errorf("page size %d holds %d entries, need at least %d", pageSize, b, minCapacity)
	}
	if b > math.MaxInt16 {
		return nil, fmt.Errorf("page size %d exceeds the int16 entry count", pageSize)
	}

	items := slices.Clone(entries)
	var levels [][]*node
	if len(items) == 0 {
		levels = append(levels, []*node{{leaf: true}})
	} else {
		level := strLevel(items, b, true)
		levels = append(levels, level)
		for len(level) > 1 {
			parents := make([]Entry, len(level))
			for i, n := range level {
				// Pointer holds the child's position in its level until
				// page ids are assigned.
				parents[i] = Entry{Rect: n.bounds(), Pointer: uint32(i)}
			}
			level = strLevel(parents, b, false)
			levels = append(levels, level)
		}
	}

	top := len(levels) - 1
	levels[top][0].id = 1
	next := uint32(2)
	for _, level := range levels[:top] {
		for _, n := range level {
			n.id = next
			next++
		}
	}

	numPages := int(next)
	out := make([]byte, numPages*pageSize)
	copy(out, Magic)
	binary.BigEndian.PutUint32(out[len(Magic):], uint32(pageSize))
	for li, level := range levels {
		for _, n := range level {
			page := out[int(n.id)*pageSize:]
			if n.leaf {
				page[0] = 1
			}
			binary.BigEndian.PutUint16(page[1:], uint16(len(n.entries)))
			pos := pageHeaderBytes
			for _, e := range n.entries {
				ptr := e.Pointer
				if !n.leaf {
					ptr = levels[li-1][e.Pointer].id
				}
				binary.BigEndian.PutUint32(page[pos:], uint32(e.MinLon))
				binary.BigEndian.PutUint32(page[pos+4:], uint32(e.MaxLon))
				binary.BigEndian.PutUint32(page[pos+8:], uint32(e.MinLat))
				binary.BigEndian.PutUint32(page[pos+12:], uint32(e.MaxLat))
				binary.BigEndian.PutUint32(page[pos+16:], ptr)
				pos += entryBytes
			}
		}
	}
	return out, nil
}
