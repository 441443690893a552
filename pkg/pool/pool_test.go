package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	a, b int
}

func TestBorrowReuse(t *testing.T) {
	p := New[record]()
	r1 := p.Borrow()
	v, err := r1.Get()
	require.NoError(t, err)
	v.a = 42
	require.NoError(t, r1.Release())

	r2 := p.Borrow()
	v2, err := r2.Get()
	require.NoError(t, err)
	assert.Same(t, v, v2, "released value must be reused")
	assert.Equal(t, 42, v2.a, "contents are not reset")
	assert.Equal(t, 1, p.NumBorrowed())
	assert.Zero(t, p.NumFree())
}

func TestDoubleReleaseIsReported(t *testing.T) {
	p := New[record]()
	r := p.Borrow()
	require.NoError(t, r.Release())
	assert.ErrorIs(t, r.Release(), ErrReleased)
	assert.Equal(t, 1, p.NumFree(), "second release must not grow the free list")

	// The stale ref stays invalid after the slot is handed out again.
	fresh := p.Borrow()
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, r.Release(), ErrReleased)
	assert.True(t, fresh.Valid())
	assert.False(t, r.Valid())
}

func TestZeroRef(t *testing.T) {
	var r Ref[record]
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, r.Release(), ErrReleased)
	assert.Panics(t, func() { r.MustGet() })
}

func TestBalance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := New[record]()
	var held []Ref[record]
	released := 0
	for range 10_000 {
		if len(held) == 0 || rng.Intn(2) == 0 {
			held = append(held, p.Borrow())
		} else {
			i := rng.Intn(len(held))
			require.NoError(t, held[i].Release())
			held[i] = held[len(held)-1]
			held = held[:len(held)-1]
			released++
		}
		require.Equal(t, len(held), p.NumBorrowed())
		require.Equal(t, len(p.slots), p.NumBorrowed()+p.NumFree())
	}
	assert.Positive(t, released)
}

func TestPointersStayStableWhileGrowing(t *testing.T) {
	p := New[record]()
	first := p.Borrow()
	v := first.MustGet()
	v.b = 7
	for range 1000 {
		p.Borrow()
	}
	assert.Same(t, v, first.MustGet())
	assert.Equal(t, 7, first.MustGet().b)
}
