package router_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hh_router/pkg/block"
	"hh_router/pkg/geo"
	"hh_router/pkg/hherr"
	"hh_router/pkg/pool"
	"hh_router/pkg/router"
	"hh_router/pkg/store"
	"hh_router/pkg/store/storetest"
)

func openToy(t *testing.T) (*router.Router, *store.WriteResult) {
	t.Helper()
	path, res := storetest.WriteToy(t)
	r, err := router.Open(path, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, res
}

func TestEdgesInCanonicalOrder(t *testing.T) {
	r, res := openToy(t)
	h := storetest.Toy()

	tests := []struct {
		vertex   uint32
		targets  []uint32
		weights  []uint32
		internal []bool
	}{
		// 4->3 stays in the cluster and is listed before 4->5.
		{vertex: 4, targets: []uint32{3, 5}, weights: []uint32{103, 104}, internal: []bool{true, false}},
		// 5->4 is listed first but leaves the cluster, so 5->6 comes first.
		{vertex: 5, targets: []uint32{6, 4}, weights: []uint32{105, 104}, internal: []bool{true, false}},
		{vertex: 0, targets: []uint32{1}, weights: []uint32{100}, internal: []bool{true}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.vertex), func(t *testing.T) {
			vref, err := r.Vertex(res.VertexIDs[tt.vertex])
			require.NoError(t, err)
			defer r.ReleaseVertex(vref)
			v := vref.MustGet()
			assert.Equal(t, h.Lon[tt.vertex], v.Lon)
			assert.Equal(t, h.Lat[tt.vertex], v.Lat)
			require.Equal(t, uint32(len(tt.targets)), v.NumOutbound())

			var targets, weights []uint32
			var internal []bool
			for i := range v.NumOutbound() {
				eref, err := r.OutboundEdge(v, i)
				require.NoError(t, err)
				e := eref.MustGet()
				targets = append(targets, uint32(e.TargetZero))
				weights = append(weights, e.Weight)
				internal = append(internal, e.Internal)
				require.NoError(t, r.ReleaseEdge(eref))
			}
			want := make([]uint32, len(tt.targets))
			for i, to := range tt.targets {
				want[i] = uint32(res.VertexIDs[to])
			}
			assert.Equal(t, want, targets)
			assert.Equal(t, tt.weights, weights)
			assert.Equal(t, tt.internal, internal)
		})
	}

	st := r.Stats()
	assert.Zero(t, st.VerticesBorrowed)
	assert.Zero(t, st.EdgesBorrowed)
}

func TestNearestVertexIsClosest(t *testing.T) {
	r, res := openToy(t)
	h := storetest.Toy()

	lat := geo.FromE6(storetest.BaseLat) + 0.0003
	lon := geo.FromE6(storetest.BaseLon + 5*storetest.Step + 700)

	best, bestD := -1, math.Inf(1)
	for v := range h.Lon {
		d := geo.Haversine(lat, lon, geo.FromE6(h.Lat[v]), geo.FromE6(h.Lon[v]))
		if d < bestD {
			best, bestD = v, d
		}
	}

	ref, err := r.NearestVertex(lat, lon, 50_000)
	require.NoError(t, err)
	assert.Equal(t, res.VertexIDs[best], ref.MustGet().ID)
	require.NoError(t, r.ReleaseVertex(ref))

	_, err = r.NearestVertex(lat, lon+1, 100)
	assert.ErrorIs(t, err, router.ErrNotFound)
	assert.Zero(t, r.Stats().VerticesBorrowed)
}

func TestFailedLookupsDoNotLeak(t *testing.T) {
	r, res := openToy(t)

	_, err := r.Vertex(block.NoVertex)
	assert.ErrorIs(t, err, hherr.ErrOutOfRange)

	vref, err := r.Vertex(res.VertexIDs[0])
	require.NoError(t, err)
	_, err = r.OutboundEdge(vref.MustGet(), 99)
	assert.ErrorIs(t, err, hherr.ErrOutOfRange)

	st := r.Stats()
	assert.Equal(t, 1, st.VerticesBorrowed)
	assert.Zero(t, st.EdgesBorrowed)
	assert.Positive(t, st.Store.BlockReads)
}

func TestDoubleReleaseIsReported(t *testing.T) {
	r, res := openToy(t)

	vref, err := r.Vertex(res.VertexIDs[0])
	require.NoError(t, err)
	require.NoError(t, r.ReleaseVertex(vref))
	assert.ErrorIs(t, r.ReleaseVertex(vref), pool.ErrReleased)

	_, err = vref.Get()
	assert.ErrorIs(t, err, pool.ErrReleased)

	// The slot is reused by the next borrow without reviving the old ref.
	next, err := r.Vertex(res.VertexIDs[1])
	require.NoError(t, err)
	assert.False(t, vref.Valid())
	assert.True(t, next.Valid())
}
