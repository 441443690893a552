// Package cache keeps decoded blocks in memory, keyed by block id.
package cache

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Item is a cached value that knows its memory footprint.
type Item interface {
	SizeBytes() int
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Items     int    `json:"items"`
	Bytes     int64  `json:"bytes"`
	Capacity  int64  `json:"capacity_bytes"` // 0 when unbounded
}

// Cache stores items by block id. Implementations are not safe for
// concurrent use.
type Cache[T Item] interface {
	Get(id uint32) (T, bool)
	Put(id uint32, item T)
	Clear()
	Stats() Stats
}

// LRU evicts least recently used items once the summed item sizes exceed
// its byte capacity. A single item larger than the capacity is kept until
// the next insert.
type LRU[T Item] struct {
	lru      *simplelru.LRU[uint32, T]
	capacity int64
	bytes    int64
	stats    Stats
}

// NewLRU returns an LRU holding at most capacity bytes.
func NewLRU[T Item](capacity int64) *LRU[T] {
	c := &LRU[T]{capacity: capacity}
	// Entry count is unbounded; eviction is driven by bytes.
	l, err := simplelru.NewLRU[uint32, T](math.MaxInt, c.onEvict)
	if err != nil {
		panic(err) // only returned for a non-positive size
	}
	c.lru = l
	return c
}

func (c *LRU[T]) onEvict(_ uint32, item T) {
	c.bytes -= int64(item.SizeBytes())
}

// Get returns the item and marks it most recently used.
func (c *LRU[T]) Get(id uint32) (T, bool) {
	item, ok := c.lru.Get(id)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return item, ok
}

// Put inserts or replaces an item, then evicts from the tail while over
// capacity.
func (c *LRU[T]) Put(id uint32, item T) {
	if old, ok := c.lru.Peek(id); ok {
		c.bytes -= int64(old.SizeBytes())
	}
	c.lru.Add(id, item)
	c.bytes += int64(item.SizeBytes())
	for c.bytes > c.capacity && c.lru.Len() > 1 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.stats.Evictions++
	}
}

// Clear drops all items and resets the counters.
func (c *LRU[T]) Clear() {
	c.lru.Purge()
	c.bytes = 0
	c.stats = Stats{}
}

// Bytes returns the summed size of cached items.
func (c *LRU[T]) Bytes() int64 { return c.bytes }

// Stats returns the current counters.
func (c *LRU[T]) Stats() Stats {
	s := c.stats
	s.Items = c.lru.Len()
	s.Bytes = c.bytes
	s.Capacity = c.capacity
	return s
}

// Unbounded never evicts. It suits workloads that touch the whole graph.
type Unbounded[T Item] struct {
	items map[uint32]T
	bytes int64
	stats Stats
}

// NewUnbounded returns an empty unbounded cache.
func NewUnbounded[T Item]() *Unbounded[T] {
	return &Unbounded[T]{items: make(map[uint32]T)}
}

func (c *Unbounded[T]) Get(id uint32) (T, bool) {
	item, ok := c.items[id]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return item, ok
}

func (c *Unbounded[T]) Put(id uint32, item T) {
	if old, ok := c.items[id]; ok {
		c.bytes -= int64(old.SizeBytes())
	}
	c.items[id] = item
	c.bytes += int64(item.SizeBytes())
}

func (c *Unbounded[T]) Clear() {
	clear(c.items)
	c.bytes = 0
	c.stats = Stats{}
}

func (c *Unbounded[T]) Stats() Stats {
	s := c.stats
	s.Items = len(c.items)
	s.Bytes = c.bytes
	return s
}
