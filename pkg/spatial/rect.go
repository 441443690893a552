// Package spatial builds and queries a static, page-packed R-tree over
// rectangles in integer microdegrees.
package spatial

// Rect is a closed axis-aligned rectangle.
type Rect struct {
	MinLon, MaxLon int32
	MinLat, MaxLat int32
}

// Overlaps reports whether r and o share at least one point.
func (r Rect) Overlaps(o Rect) bool {
	if r.MinLon > o.MaxLon || o.MinLon > r.MaxLon {
		return false
	}
	if r.MinLat > o.MaxLat || o.MinLat > r.MaxLat {
		return false
	}
	return true
}

// Union returns the smallest rectangle covering r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinLon: min(r.MinLon, o.MinLon),
		MaxLon: max(r.MaxLon, o.MaxLon),
		MinLat: min(r.MinLat, o.MinLat),
		MaxLat: max(r.MaxLat, o.MaxLat),
	}
}

// centerLon and centerLat return twice the center, exact in int64.
func (r Rect) centerLon() int64 { return int64(r.MinLon) + int64(r.MaxLon) }
func (r Rect) centerLat() int64 { return int64(r.MinLat) + int64(r.MaxLat) }

// Entry is a rectangle with its opaque payload.
type Entry struct {
	Rect
	Pointer uint32
}

// Index answers rectangle overlap queries.
type Index interface {
	Overlaps(q Rect) ([]uint32, error)
}
