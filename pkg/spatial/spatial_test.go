package spatial

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/rtree"

	"hh_router/pkg/hherr"
)

func randomEntries(rng *rand.Rand, n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		lon := int32(rng.Intn(2_000_000)) - 1_000_000
		lat := int32(rng.Intn(2_000_000)) - 1_000_000
		entries[i] = Entry{
			Rect: Rect{
				MinLon: lon, MaxLon: lon + int32(rng.Intn(20_000)),
				MinLat: lat, MaxLat: lat + int32(rng.Intn(20_000)),
			},
			Pointer: uint32(i),
		}
	}
	return entries
}

func openPacked(t *testing.T, entries []Entry, pageSize int) *Tree {
	t.Helper()
	data, err := Pack(entries, pageSize)
	require.NoError(t, err)
	require.Zero(t, len(data)%pageSize)

	// Place the region at a non-zero offset like inside a graph file.
	file := append(make([]byte, 100), data...)
	tree, err := Open(bytes.NewReader(file), 100, int64(len(file)))
	require.NoError(t, err)
	return tree
}

var everything = Rect{MinLon: math.MinInt32, MaxLon: math.MaxInt32, MinLat: math.MinInt32, MaxLat: math.MaxInt32}

func TestCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 3, 50, 1000, 5000} {
		for _, pageSize := range []int{64, 4096} {
			tree := openPacked(t, randomEntries(rng, n), pageSize)
			got, err := tree.Overlaps(everything)
			require.NoError(t, err)
			require.Len(t, got, n, "n=%d page=%d", n, pageSize)
			slices.Sort(got)
			for i, p := range got {
				require.Equal(t, uint32(i), p, "n=%d page=%d", n, pageSize)
			}
		}
	}
}

func TestSoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tree := openPacked(t, randomEntries(rng, 800), 128)
	got, err := tree.Overlaps(Rect{MinLon: 5_000_000, MaxLon: 6_000_000, MinLat: 0, MaxLat: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchesInMemoryRTree(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	entries := randomEntries(rng, 3000)
	tree := openPacked(t, entries, 256)

	var oracle rtree.RTreeG[uint32]
	for _, e := range entries {
		oracle.Insert([2]float64{float64(e.MinLon), float64(e.MinLat)}, [2]float64{float64(e.MaxLon), float64(e.MaxLat)}, e.Pointer)
	}

	for range 200 {
		lon := int32(rng.Intn(2_200_000)) - 1_100_000
		lat := int32(rng.Intn(2_200_000)) - 1_100_000
		q := Rect{MinLon: lon, MaxLon: lon + int32(rng.Intn(100_000)), MinLat: lat, MaxLat: lat + int32(rng.Intn(100_000))}

		var want []uint32
		oracle.Search([2]float64{float64(q.MinLon), float64(q.MinLat)}, [2]float64{float64(q.MaxLon), float64(q.MaxLat)},
			func(_, _ [2]float64, p uint32) bool {
				want = append(want, p)
				return true
			})
		got, err := tree.Overlaps(q)
		require.NoError(t, err)
		slices.Sort(want)
		slices.Sort(got)
		require.Equal(t, want, got)
	}
}

func TestMemoryIndexAgreesWithTree(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	entries := randomEntries(rng, 500)
	tree := openPacked(t, entries, 512)
	mem, err := LoadMemory(tree)
	require.NoError(t, err)
	assert.Equal(t, 500, mem.Len())

	var idx Index = mem
	q := Rect{MinLon: -200_000, MaxLon: 200_000, MinLat: -200_000, MaxLat: 200_000}
	want, err := tree.Overlaps(q)
	require.NoError(t, err)
	got, err := idx.Overlaps(q)
	require.NoError(t, err)
	slices.Sort(want)
	slices.Sort(got)
	assert.Equal(t, want, got)
}

func TestOverlapsClosedAndSymmetric(t *testing.T) {
	a := Rect{MinLon: 0, MaxLon: 10, MinLat: 0, MaxLat: 10}
	touching := Rect{MinLon: 10, MaxLon: 20, MinLat: 10, MaxLat: 20}
	apart := Rect{MinLon: 11, MaxLon: 20, MinLat: 0, MaxLat: 10}
	inside := Rect{MinLon: 2, MaxLon: 3, MinLat: 2, MaxLat: 3}

	for _, c := range []struct {
		b    Rect
		want bool
	}{{touching, true}, {apart, false}, {inside, true}} {
		assert.Equal(t, c.want, a.Overlaps(c.b))
		assert.Equal(t, c.want, c.b.Overlaps(a))
	}
}

func TestPageLayout(t *testing.T) {
	entries := []Entry{
		{Rect: Rect{MinLon: 1, MaxLon: 2, MinLat: 3, MaxLat: 4}, Pointer: 7},
		{Rect: Rect{MinLon: -5, MaxLon: -4, MinLat: -3, MaxLat: -2}, Pointer: 9},
	}
	data, err := Pack(entries, 64)
	require.NoError(t, err)
	require.Len(t, data, 128, "header page plus one root leaf")

	assert.Equal(t, Magic, string(data[:len(Magic)]))
	assert.Equal(t, uint32(64), binary.BigEndian.Uint32(data[len(Magic):]))

	root := data[64:]
	assert.Equal(t, byte(1), root[0])
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(root[1:]))
}

func TestRootIsPageOneAndChildrenFollow(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	// Capacity 3 forces several levels.
	data, err := Pack(randomEntries(rng, 40), 63)
	require.NoError(t, err)
	root := data[63:]
	assert.Equal(t, byte(0), root[0], "root must be an inner node")
	count := int(binary.BigEndian.Uint16(root[1:]))
	for i := range count {
		child := binary.BigEndian.Uint32(root[3+i*20+16:])
		assert.GreaterOrEqual(t, child, uint32(2))
		assert.Less(t, int(child), len(data)/63)
	}
}

func TestCorruptPages(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	data, err := Pack(randomEntries(rng, 40), 63)
	require.NoError(t, err)

	// Point the root's first child back at the root.
	bad := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(bad[63+3+16:], 1)
	tree, err := Open(bytes.NewReader(bad), 0, int64(len(bad)))
	require.NoError(t, err)
	_, err = tree.Overlaps(everything)
	assert.ErrorIs(t, err, hherr.ErrDecode)

	bad = append([]byte(nil), data...)
	binary.BigEndian.PutUint16(bad[63+1:], 500)
	tree, err = Open(bytes.NewReader(bad), 0, int64(len(bad)))
	require.NoError(t, err)
	_, err = tree.Overlaps(everything)
	assert.ErrorIs(t, err, hherr.ErrDecode)

	_, err = Open(bytes.NewReader(data), 0, int64(len(data))-1)
	assert.ErrorIs(t, err, hherr.ErrFormat)

	bad = append([]byte(nil), data...)
	bad[0] = 'X'
	_, err = Open(bytes.NewReader(bad), 0, int64(len(bad)))
	assert.ErrorIs(t, err, hherr.ErrFormat)
}

func TestPackRejectsTinyPages(t *testing.T) {
	_, err := Pack(nil, 40)
	assert.Error(t, err)
}
