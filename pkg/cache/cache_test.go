package cache

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob int

func (b blob) SizeBytes() int { return int(b) }

func TestLRUEvictsOldestFirst(t *testing.T) {
	c := NewLRU[blob](100)
	c.Put(1, 40)
	c.Put(2, 40)
	_, ok := c.Get(1) // 1 becomes most recent
	require.True(t, ok)
	c.Put(3, 40)

	_, ok = c.Get(2)
	assert.False(t, ok, "least recently used item must be evicted")
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)

	s := c.Stats()
	assert.Equal(t, uint64(3), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Evictions)
	assert.Equal(t, 2, s.Items)
	assert.Equal(t, int64(80), s.Bytes)
	assert.Equal(t, int64(100), s.Capacity)
}

func TestLRUByteBound(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const capacity = 10_000
	c := NewLRU[blob](capacity)
	for range 5000 {
		id := uint32(rng.Intn(300))
		if rng.Intn(3) == 0 {
			c.Get(id)
			continue
		}
		size := blob(1 + rng.Intn(2000))
		c.Put(id, size)
		require.LessOrEqual(t, c.Bytes(), int64(capacity))

		var sum int64
		for _, k := range c.lru.Keys() {
			v, _ := c.lru.Peek(k)
			sum += int64(v)
		}
		require.Equal(t, sum, c.Bytes())
	}
}

func TestLRUOversizedItem(t *testing.T) {
	c := NewLRU[blob](10)
	c.Put(1, 5)
	c.Put(2, 50)
	assert.Equal(t, 1, c.Stats().Items, "an oversized insert evicts everything else")
	_, ok := c.Get(2)
	assert.True(t, ok)

	c.Put(3, 4)
	assert.Equal(t, int64(4), c.Bytes())
}

func TestLRUReplaceKeepsAccounting(t *testing.T) {
	c := NewLRU[blob](100)
	c.Put(1, 30)
	c.Put(1, 10)
	assert.Equal(t, int64(10), c.Bytes())
	assert.Equal(t, 1, c.Stats().Items)
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[blob](100)
	c.Put(1, 30)
	c.Get(7)
	c.Clear()
	assert.Equal(t, Stats{Capacity: 100}, c.Stats())
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestUnbounded(t *testing.T) {
	var c Cache[blob] = NewUnbounded[blob]()
	for i := range uint32(1000) {
		c.Put(i, 1000)
	}
	c.Put(5, 10)
	_, ok := c.Get(0)
	assert.True(t, ok)
	_, ok = c.Get(1000)
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, 1000, s.Items)
	assert.Equal(t, int64(999*1000+10), s.Bytes)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)

	c.Clear()
	assert.Zero(t, c.Stats().Items)
}
