package graph

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversEveryNodeOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n = 1000
	lat := make([]int32, n)
	lon := make([]int32, n)
	nodes := make([]uint32, n)
	for i := range n {
		lat[i] = int32(rng.Intn(100_000))
		lon[i] = int32(rng.Intn(400_000))
		nodes[i] = uint32(i)
	}

	for _, maxSize := range []int{1, 7, 64, 1000, 5000} {
		clusters := Partition(nodes, lat, lon, maxSize)
		var all []uint32
		for _, c := range clusters {
			require.NotEmpty(t, c)
			require.LessOrEqual(t, len(c), maxSize)
			all = append(all, c...)
		}
		slices.Sort(all)
		assert.Equal(t, nodes, all, "maxSize %d", maxSize)
	}
}

func TestPartitionSplitsAlongWiderAxis(t *testing.T) {
	// Four nodes on a west-east line: two clusters of two, west first.
	lat := []int32{0, 0, 0, 0}
	lon := []int32{300, 100, 400, 200}
	clusters := Partition([]uint32{0, 1, 2, 3}, lat, lon, 2)
	assert.Equal(t, [][]uint32{{1, 3}, {0, 2}}, clusters)

	assert.Nil(t, Partition(nil, lat, lon, 2))
}
