package spatial

import "github.com/tidwall/rtree"

// Memory is an in-memory index holding every entry of a packed tree.
type Memory struct {
	tr rtree.RTreeG[uint32]
}

// NewMemory indexes entries in memory.
func NewMemory(entries []Entry) *Memory {
	m := &Memory{}
	for _, e := range entries {
		lo, hi := corners(e.Rect)
		m.tr.Insert(lo, hi, e.Pointer)
	}
	return m
}

// LoadMemory reads every entry of t into a Memory index.
func LoadMemory(t *Tree) (*Memory, error) {
	entries, err := t.Entries()
	if err != nil {
		return nil, err
	}
	return NewMemory(entries), nil
}

func corners(r Rect) (lo, hi [2]float64) {
	return [2]float64{float64(r.MinLon), float64(r.MinLat)}, [2]float64{float64(r.MaxLon), float64(r.MaxLat)}
}

// Len returns the number of entries.
func (m *Memory) Len() int { return m.tr.Len() }

// Overlaps returns the pointers of all entries intersecting q.
func (m *Memory) Overlaps(q Rect) ([]uint32, error) {
	var out []uint32
	lo, hi := corners(q)
	m.tr.Search(lo, hi, func(_, _ [2]float64, ptr uint32) bool {
		out = append(out, ptr)
		return true
	})
	return out, nil
}
