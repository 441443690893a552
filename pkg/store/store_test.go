package store_test

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hh_router/pkg/block"
	"hh_router/pkg/geo"
	"hh_router/pkg/hherr"
	"hh_router/pkg/store"
	"hh_router/pkg/store/storetest"
)

var configs = map[string]store.Config{
	"readat":    store.DefaultConfig(),
	"mmap":      {CacheBytes: 16 << 20, Mmap: true},
	"unbounded": {},
	"inmemory":  {CacheBytes: 1 << 10, SpatialInMemory: true},
}

func openToy(t *testing.T, cfg store.Config) (*store.Store, *store.WriteResult) {
	t.Helper()
	path, res := storetest.WriteToy(t)
	s, err := store.Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, res
}

type edgeKey struct {
	to     uint32
	weight uint32
	flags  block.Flags
}

// outbound collects the edges of v as input-vertex keys and checks that
// internal edges are enumerated first.
func outbound(t *testing.T, s *store.Store, v *block.Vertex, input map[block.VertexID]uint32) []edgeKey {
	t.Helper()
	var keys []edgeKey
	var e block.Edge
	seenExternal := false
	for i := range v.NumOutbound() {
		require.NoError(t, s.OutboundEdge(v, i, &e))
		assert.Equal(t, v.ID, e.Source)
		if e.Internal {
			assert.False(t, seenExternal, "internal edge %d after an external edge", i)
			assert.Equal(t, s.Layout().Block(v.ID), s.Layout().Block(e.Target))
		} else {
			seenExternal = true
			assert.NotEqual(t, s.Layout().Block(v.ID), s.Layout().Block(e.Target))
		}
		to, ok := input[e.TargetZero]
		require.True(t, ok, "edge target zero id %d is not a level-0 vertex", e.TargetZero)
		keys = append(keys, edgeKey{to: to, weight: e.Weight, flags: e.Flags})
	}
	return keys
}

// expected lists the edges of from in canonical order: edges inside the
// cluster of from first, then the rest, each in input order.
func expected(lvl store.Level, from uint32) []edgeKey {
	var cluster []uint32
	for _, c := range lvl.Clusters {
		if slices.Contains(c, from) {
			cluster = c
		}
	}
	var internal, external []edgeKey
	for _, e := range lvl.Edges {
		if e.From != from {
			continue
		}
		k := edgeKey{to: e.To, weight: e.Weight, flags: e.Flags}
		if slices.Contains(cluster, e.To) {
			internal = append(internal, k)
		} else {
			external = append(external, k)
		}
	}
	return append(internal, external...)
}

func TestToyGraphRoundTrip(t *testing.T) {
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			s, res := openToy(t, cfg)
			h := storetest.Toy()

			assert.Equal(t, 3, s.NumLevels())
			assert.Equal(t, 6, s.NumBlocks())
			assert.Equal(t, []int{2, 2, 2}, res.BlocksPerLevel)

			input := make(map[block.VertexID]uint32)
			for v, id := range res.VertexIDs {
				input[id] = uint32(v)
			}

			for v := range uint32(len(h.Lon)) {
				// Walk up the hierarchy from level 0.
				var cur block.Vertex
				require.NoError(t, s.Vertex(res.VertexIDs[v], &cur))
				assert.Equal(t, h.Lon[v], cur.Lon)
				assert.Equal(t, h.Lat[v], cur.Lat)
				assert.Equal(t, block.NoVertex, cur.Below)
				assert.Equal(t, cur.ID, cur.Zero)

				prev := cur.ID
				for l := range h.Levels {
					require.Equal(t, uint8(l), cur.Level)
					assert.Equal(t, res.VertexIDs[v], cur.Zero)
					if l > 0 {
						assert.Equal(t, prev, cur.Below, "vertex %d level %d", v, l)
					}
					assert.Equal(t, expected(h.Levels[l], v), outbound(t, s, &cur, input), "vertex %d level %d", v, l)

					nh := h.Levels[l].Neighborhood
					if nh == nil {
						assert.False(t, cur.HasNeighborhood())
					} else {
						assert.Equal(t, nh[v], cur.Neighborhood)
					}

					if cur.Above == block.NoVertex {
						break
					}
					prev = cur.ID
					require.NoError(t, s.Vertex(cur.Above, &cur))
				}
				assert.Equal(t, block.NoVertex, cur.Above)
			}
		})
	}
}

func TestTopLevelEdgesAreCore(t *testing.T) {
	s, res := openToy(t, store.DefaultConfig())

	var v block.Vertex
	require.NoError(t, s.Vertex(res.VertexIDs[4], &v))
	for v.Above != block.NoVertex {
		require.NoError(t, s.Vertex(v.Above, &v))
	}
	require.Equal(t, uint8(2), v.Level)
	require.Equal(t, uint32(1), v.NumOutbound())

	var e block.Edge
	require.NoError(t, s.OutboundEdge(&v, 0, &e))
	assert.True(t, e.Core)
	assert.False(t, e.Internal)
	assert.Equal(t, res.VertexIDs[5], e.TargetZero)
}

func TestBlocksSortedBySize(t *testing.T) {
	s, _ := openToy(t, store.DefaultConfig())
	prev := 0
	for id := range uint32(s.NumBlocks()) {
		b, err := s.Block(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.SizeBytes(), prev, "block %d", id)
		prev = b.SizeBytes()
	}
	_, err := s.Block(uint32(s.NumBlocks()))
	assert.ErrorIs(t, err, hherr.ErrOutOfRange)
}

func TestNearestVertex(t *testing.T) {
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			s, res := openToy(t, cfg)
			h := storetest.Toy()

			var v block.Vertex
			lat, lon := geo.FromE6(h.Lat[7]), geo.FromE6(h.Lon[7])
			require.NoError(t, s.NearestVertex(lat, lon+0.0001, 500, &v))
			assert.Equal(t, res.VertexIDs[7], v.ID)

			// Vertices 1 and 3 share coordinates: the smaller id wins.
			lat, lon = geo.FromE6(h.Lat[1]), geo.FromE6(h.Lon[1])
			require.NoError(t, s.NearestVertex(lat, lon, 10, &v))
			assert.Equal(t, min(res.VertexIDs[1], res.VertexIDs[3]), v.ID)

			err := s.NearestVertex(lat+1, lon, 1000, &v)
			assert.ErrorIs(t, err, store.ErrNotFound)

			err = s.NearestVertex(lat, lon, -1, &v)
			assert.ErrorIs(t, err, hherr.ErrOutOfRange)
		})
	}
}

func TestNearestVertexRadiusIsInclusiveBound(t *testing.T) {
	s, res := openToy(t, store.DefaultConfig())
	h := storetest.Toy()

	// A point west of vertex 0 by about 300 m.
	lat, lon := geo.FromE6(h.Lat[0]), geo.FromE6(h.Lon[0]-4*storetest.Step)
	d := geo.Haversine(lat, lon, geo.FromE6(h.Lat[0]), geo.FromE6(h.Lon[0]))

	var v block.Vertex
	assert.ErrorIs(t, s.NearestVertex(lat, lon, d*0.99, &v), store.ErrNotFound)
	require.NoError(t, s.NearestVertex(lat, lon, d*1.01, &v))
	assert.Equal(t, res.VertexIDs[0], v.ID)
}

func TestNearestVertexUnboundedRadius(t *testing.T) {
	s, res := openToy(t, store.DefaultConfig())
	h := storetest.Toy()

	// On the equator below vertex 8, about 5800 km from every vertex.
	lat, lon := 0.0, geo.FromE6(h.Lon[8])
	best, bestD := -1, math.Inf(1)
	for i := range h.Lon {
		d := geo.Haversine(lat, lon, geo.FromE6(h.Lat[i]), geo.FromE6(h.Lon[i]))
		if d < bestD {
			best, bestD = i, d
		}
	}
	require.Equal(t, 8, best)

	for _, radius := range []float64{2.1e7, 1e20, math.MaxFloat64, math.Inf(1)} {
		var v block.Vertex
		require.NoError(t, s.NearestVertex(lat, lon, radius, &v), "radius %g", radius)
		assert.Equal(t, res.VertexIDs[best], v.ID, "radius %g", radius)
	}
}

func TestStatsAndCache(t *testing.T) {
	s, res := openToy(t, store.Config{CacheBytes: 1})

	var v block.Vertex
	for _, id := range res.VertexIDs {
		require.NoError(t, s.Vertex(id, &v))
	}
	st := s.Stats()
	assert.LessOrEqual(t, st.Cache.Items, 1)
	assert.Equal(t, uint64(0), st.BlockReadsPerLevel[1])
	assert.Equal(t, st.BlockReads, st.BlockReadsPerLevel[0])
	assert.GreaterOrEqual(t, st.BlockReads, uint64(2))
	assert.Positive(t, st.BytesRead)

	s2, res2 := openToy(t, store.DefaultConfig())
	for range 3 {
		require.NoError(t, s2.Vertex(res2.VertexIDs[0], &v))
	}
	st = s2.Stats()
	assert.Equal(t, uint64(1), st.BlockReads)
	assert.Equal(t, uint64(2), st.Cache.Hits)
}

func TestCloseReleasesStore(t *testing.T) {
	path, res := storetest.WriteToy(t)
	s, err := store.Open(path, store.Config{Mmap: true})
	require.NoError(t, err)

	var v block.Vertex
	require.NoError(t, s.Vertex(res.VertexIDs[0], &v))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Vertex(res.VertexIDs[0], &v), store.ErrClosed)
	assert.ErrorIs(t, s.Err(), store.ErrClosed)
}

func TestOpenRejectsBadFiles(t *testing.T) {
	path, _ := storetest.WriteToy(t)
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	badMagic := slices.Clone(good)
	copy(badMagic, "NOTAHHRT")
	badVersion := slices.Clone(good)
	badVersion[11] = 9

	cases := map[string][]byte{
		"empty":     nil,
		"short":     good[:64],
		"magic":     badMagic,
		"version":   badVersion,
		"truncated": good[:len(good)-10],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "bad.hh")
			require.NoError(t, os.WriteFile(p, data, 0o644))
			_, err := store.Open(p, store.DefaultConfig())
			assert.ErrorIs(t, err, hherr.ErrFormat)
		})
	}

	_, err = store.Open(filepath.Join(t.TempDir(), "missing.hh"), store.DefaultConfig())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteRejectsInvalidHierarchy(t *testing.T) {
	cases := map[string]func(h *store.Hierarchy){
		"no levels":         func(h *store.Hierarchy) { h.Levels = nil },
		"coordinate counts": func(h *store.Hierarchy) { h.Lat = h.Lat[:3] },
		"duplicate vertex":  func(h *store.Hierarchy) { h.Levels[0].Clusters[1][0] = 0 },
		"unclustered":       func(h *store.Hierarchy) { h.Levels[0].Clusters[1] = h.Levels[0].Clusters[1][1:] },
		"missing below":     func(h *store.Hierarchy) { h.Levels[2].Clusters[0] = append(h.Levels[2].Clusters[0], 1) },
		"empty cluster":     func(h *store.Hierarchy) { h.Levels[2].Clusters = append(h.Levels[2].Clusters, nil) },
		"edge off level":    func(h *store.Hierarchy) { h.Levels[2].Edges[0].To = 9 },
		"neighborhood gap": func(h *store.Hierarchy) {
			// Vertex 6 has a neighborhood, vertex 5 (sorted before it) does not.
			h.Levels[0].Neighborhood[6] = 1
			h.Levels[0].Neighborhood[8] = 2
			h.Levels[0].Neighborhood[7] = block.Infinite
		},
		"neighborhood size": func(h *store.Hierarchy) { h.Levels[1].Neighborhood = []uint32{1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := storetest.Toy()
			mutate(h)
			_, err := store.Write(filepath.Join(t.TempDir(), "x.hh"), h, store.DefaultWriteOptions())
			assert.ErrorIs(t, err, store.ErrInvalidHierarchy)
		})
	}
}

func TestWriteLargerGraph(t *testing.T) {
	// A 30x30 grid in 36 level-0 clusters and a single-level file.
	const side = 30
	h := &store.Hierarchy{}
	var clusters [36][]uint32
	for y := range side {
		for x := range side {
			v := uint32(len(h.Lon))
			h.Lon = append(h.Lon, int32(x*1000))
			h.Lat = append(h.Lat, int32(y*1000))
			k := (y/5)*6 + x/5
			clusters[k] = append(clusters[k], v)
		}
	}
	var lvl store.Level
	lvl.Clusters = clusters[:]
	for y := range side {
		for x := range side {
			v := uint32(y*side + x)
			if x+1 < side {
				lvl.Edges = append(lvl.Edges, store.Edge{From: v, To: v + 1, Weight: uint32(x + y + 1)})
			}
			if y+1 < side {
				lvl.Edges = append(lvl.Edges, store.Edge{From: v, To: v + side, Weight: uint32(7 * (x + 1))})
			}
		}
	}
	h.Levels = []store.Level{lvl}

	path := filepath.Join(t.TempDir(), "grid.hh")
	res, err := store.Write(path, h, store.WriteOptions{MaxGroupSize: 20, PageSize: 64})
	require.NoError(t, err)
	assert.Equal(t, 36, res.NumBlocks)
	assert.GreaterOrEqual(t, res.GroupSize, 5)

	s, err := store.Open(path, store.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	input := make(map[block.VertexID]uint32)
	for v, id := range res.VertexIDs {
		input[id] = uint32(v)
	}
	for v := range uint32(len(h.Lon)) {
		var cur block.Vertex
		require.NoError(t, s.Vertex(res.VertexIDs[v], &cur))
		assert.Equal(t, block.NoVertex, cur.Above)
		assert.Equal(t, expected(lvl, v), outbound(t, s, &cur, input), fmt.Sprintf("vertex %d", v))

		var near block.Vertex
		require.NoError(t, s.NearestVertex(geo.FromE6(h.Lat[v]), geo.FromE6(h.Lon[v]), 1, &near))
		assert.Equal(t, cur.ID, near.ID)
	}
}
