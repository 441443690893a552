package graph

import (
	"cmp"
	"slices"
)

// Partition splits nodes into spatially compact clusters of at most
// maxSize nodes. Each step sorts the current set along its wider axis and
// cuts it at the median; ties break on node index so the result is
// deterministic.
func Partition(nodes []uint32, lat, lon []int32, maxSize int) [][]uint32 {
	if len(nodes) == 0 {
		return nil
	}
	maxSize = max(maxSize, 1)

	var clusters [][]uint32
	stack := [][]uint32{slices.Clone(nodes)}
	for len(stack) > 0 {
		set := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(set) <= maxSize {
			clusters = append(clusters, set)
			continue
		}

		minLat, maxLat := lat[set[0]], lat[set[0]]
		minLon, maxLon := lon[set[0]], lon[set[0]]
		for _, v := range set[1:] {
			minLat, maxLat = min(minLat, lat[v]), max(maxLat, lat[v])
			minLon, maxLon = min(minLon, lon[v]), max(maxLon, lon[v])
		}
		key := lat
		if int64(maxLon)-int64(minLon) > int64(maxLat)-int64(minLat) {
			key = lon
		}
		slices.SortFunc(set, func(a, b uint32) int {
			if c := cmp.Compare(key[a], key[b]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})

		mid := len(set) / 2
		// Push the upper half first so clusters come out west/south first.
		stack = append(stack, set[mid:], set[:mid])
	}
	return clusters
}
