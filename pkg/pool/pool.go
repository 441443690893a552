// Package pool hands out reusable records through generation-checked
// references, so a stale or double release is reported instead of
// corrupting the free list.
package pool

import "errors"

// ErrReleased is returned when a reference is used after its release.
var ErrReleased = errors.New("pool: reference already released")

type slot[T any] struct {
	val   T
	gen   uint32
	inUse bool
}

// Pool is a free list of T values. It is not safe for concurrent use.
type Pool[T any] struct {
	slots []*slot[T]
	free  []uint32
}

// New returns an empty pool.
func New[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Ref is a borrowed value. The zero Ref is invalid.
type Ref[T any] struct {
	p   *Pool[T]
	idx uint32
	gen uint32
}

// Borrow returns a reference to a free value, allocating one when the
// free list is empty. The value's contents are left from its previous use.
func (p *Pool[T]) Borrow() Ref[T] {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, &slot[T]{})
	}
	s := p.slots[idx]
	s.inUse = true
	return Ref[T]{p: p, idx: idx, gen: s.gen}
}

func (r Ref[T]) slot() (*slot[T], error) {
	if r.p == nil || int(r.idx) >= len(r.p.slots) {
		return nil, ErrReleased
	}
	s := r.p.slots[r.idx]
	if !s.inUse || s.gen != r.gen {
		return nil, ErrReleased
	}
	return s, nil
}

// Get returns the borrowed value.
func (r Ref[T]) Get() (*T, error) {
	s, err := r.slot()
	if err != nil {
		return nil, err
	}
	return &s.val, nil
}

// MustGet is Get for callers that own the reference and have not
// released it.
func (r Ref[T]) MustGet() *T {
	v, err := r.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Valid reports whether the reference may still be used.
func (r Ref[T]) Valid() bool {
	_, err := r.slot()
	return err == nil
}

// Release returns the value to the pool. Every copy of the reference
// becomes invalid.
func (r Ref[T]) Release() error {
	s, err := r.slot()
	if err != nil {
		return err
	}
	s.inUse = false
	s.gen++
	r.p.free = append(r.p.free, r.idx)
	return nil
}

// NumBorrowed returns the number of values currently borrowed.
func (p *Pool[T]) NumBorrowed() int { return len(p.slots) - len(p.free) }

// NumFree returns the number of values waiting on the free list.
func (p *Pool[T]) NumFree() int { return len(p.free) }
