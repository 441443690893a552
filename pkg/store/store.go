// Package store reads and writes the hierarchy graph file: a header, the
// global bit widths, the cluster blocks, their address index and a packed
// R-tree over level-0 clusters.
package store

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"hh_router/pkg/addrindex"
	"hh_router/pkg/block"
	"hh_router/pkg/cache"
	"hh_router/pkg/geo"
	"hh_router/pkg/hherr"
	"hh_router/pkg/metrics"
	"hh_router/pkg/spatial"
)

var (
	// ErrNotFound is returned by NearestVertex when no level-0 vertex lies
	// within the search radius.
	ErrNotFound = errors.New("no vertex within radius")
	// ErrClosed is returned by every read after Close.
	ErrClosed = errors.New("store is closed")
)

// Config tunes an open store.
type Config struct {
	// CacheBytes bounds the decoded block cache. Zero or less keeps every
	// block once read.
	CacheBytes int64 `yaml:"cache_bytes"`
	// Mmap maps the file instead of reading blocks with ReadAt.
	Mmap bool `yaml:"mmap"`
	// SpatialInMemory loads the R-tree into memory on first use.
	SpatialInMemory bool `yaml:"spatial_in_memory"`
}

// DefaultConfig returns a 16 MiB block cache over ReadAt.
func DefaultConfig() Config {
	return Config{CacheBytes: 16 << 20}
}

// Stats is a snapshot of store counters.
type Stats struct {
	BlockReads         uint64        `json:"block_reads"`
	BlockReadsPerLevel []uint64      `json:"block_reads_per_level"`
	BytesRead          uint64        `json:"bytes_read"`
	IOTime             time.Duration `json:"io_time_ns"`
	DecodeTime         time.Duration `json:"decode_time_ns"`
	Cache              cache.Stats   `json:"cache"`
}

// Info describes the file layout of an open store.
type Info struct {
	Path      string       `json:"path"`
	Version   uint32       `json:"version"`
	FileBytes int64        `json:"file_bytes"`
	Params    block.Params `json:"params"`
	NumBlocks int          `json:"num_blocks"`
	GroupSize int          `json:"group_size"`
	Blocks    Section      `json:"blocks"`
	Index     Section      `json:"index"`
	Spatial   Section      `json:"spatial"`
}

// Store gives random access to vertices and edges of a graph file. It is
// not safe for concurrent use; open one store per goroutine.
type Store struct {
	path   string
	size   int64
	src    *guardedSource
	hdr    *fileHeader
	params block.Params
	layout block.Layout
	index  *addrindex.Index
	blocks cache.Cache[*block.Block]
	cfg    Config

	spatial spatial.Index
	stats   Stats
	levels  []string
}

// Open opens the graph file at path.
func Open(path string, cfg Config) (*Store, error) {
	var (
		src source
		err error
	)
	if cfg.Mmap {
		src, err = openMmap(path)
	} else {
		src, err = openFile(path)
	}
	if err != nil {
		return nil, err
	}

	s, err := open(path, &guardedSource{source: src}, cfg)
	if err != nil {
		src.Close()
		return nil, err
	}
	return s, nil
}

func open(path string, src *guardedSource, cfg Config) (*Store, error) {
	hdr, err := readHeader(src, src.size())
	if err != nil {
		return nil, err
	}

	raw, err := src.slice(hdr.Params.Start, int(hdr.Params.Len()))
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	params, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}

	raw, err = src.slice(hdr.Index.Start, int(hdr.Index.Len()))
	if err != nil {
		return nil, fmt.Errorf("read address index: %w", err)
	}
	index, err := addrindex.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("read address index: %w", err)
	}
	if index.Len() > 0 {
		last, err := index.Pointer(uint32(index.Len() - 1))
		if err != nil {
			return nil, fmt.Errorf("read address index: %w", err)
		}
		if int64(last.End()) > hdr.Blocks.Len() {
			return nil, fmt.Errorf("%w: address index ends at %d past blocks section of %d bytes",
				hherr.ErrFormat, last.End(), hdr.Blocks.Len())
		}
	}
	if uint64(index.Len()) > uint64(1)<<params.BitsPerClusterID {
		return nil, fmt.Errorf("%w: %d blocks do not fit %d-bit cluster ids",
			hherr.ErrFormat, index.Len(), params.BitsPerClusterID)
	}

	var blocks cache.Cache[*block.Block]
	if cfg.CacheBytes > 0 {
		blocks = cache.NewLRU[*block.Block](cfg.CacheBytes)
	} else {
		blocks = cache.NewUnbounded[*block.Block]()
	}

	levels := make([]string, params.NumLevels)
	for i := range levels {
		levels[i] = strconv.Itoa(i)
	}

	return &Store{
		path:   path,
		size:   src.size(),
		src:    src,
		hdr:    hdr,
		params: params,
		layout: params.Layout(),
		index:  index,
		blocks: blocks,
		cfg:    cfg,
		stats:  Stats{BlockReadsPerLevel: make([]uint64, params.NumLevels)},
		levels: levels,
	}, nil
}

// Params returns the global bit widths of the file.
func (s *Store) Params() block.Params { return s.params }

// Layout returns the vertex id layout of the file.
func (s *Store) Layout() block.Layout { return s.layout }

// NumBlocks returns the number of cluster blocks.
func (s *Store) NumBlocks() int { return s.index.Len() }

// NumLevels returns the number of hierarchy levels.
func (s *Store) NumLevels() int { return int(s.params.NumLevels) }

// Info returns the file layout.
func (s *Store) Info() Info {
	return Info{
		Path:      s.path,
		Version:   s.hdr.Version,
		FileBytes: s.size,
		Params:    s.params,
		NumBlocks: s.index.Len(),
		GroupSize: s.index.GroupSize(),
		Blocks:    s.hdr.Blocks,
		Index:     s.hdr.Index,
		Spatial:   s.hdr.Spatial,
	}
}

// Block returns the decoded block id, reading it on a cache miss.
func (s *Store) Block(id uint32) (*block.Block, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if b, ok := s.blocks.Get(id); ok {
		return b, nil
	}

	ptr, err := s.index.Pointer(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := s.src.slice(s.hdr.Blocks.Start+int64(ptr.Offset), int(ptr.Length))
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", id, err)
	}
	ioTime := time.Since(start)

	start = time.Now()
	b, err := block.Decode(data, s.params, id)
	if err != nil {
		return nil, err
	}
	decodeTime := time.Since(start)

	s.stats.BlockReads++
	s.stats.BlockReadsPerLevel[b.Level()]++
	s.stats.BytesRead += uint64(ptr.Length)
	s.stats.IOTime += ioTime
	s.stats.DecodeTime += decodeTime
	metrics.BlockReads.WithLabelValues(s.levels[b.Level()]).Inc()
	metrics.BlockBytesRead.Add(float64(ptr.Length))
	metrics.BlockDecodeDuration.Observe(decodeTime.Seconds())

	s.blocks.Put(id, b)
	return b, nil
}

// Vertex fills v with the vertex id.
func (s *Store) Vertex(id block.VertexID, v *block.Vertex) error {
	if id == block.NoVertex {
		return fmt.Errorf("%w: vertex id is absent", hherr.ErrOutOfRange)
	}
	b, err := s.Block(s.layout.Block(id))
	if err != nil {
		return err
	}
	return b.Vertex(s.layout.Offset(id), v)
}

// OutboundEdge fills e with outbound edge i of v in canonical order:
// internal edges first, then external edges, each in writer input order.
func (s *Store) OutboundEdge(v *block.Vertex, i uint32, e *block.Edge) error {
	b, err := s.Block(s.layout.Block(v.ID))
	if err != nil {
		return err
	}
	return b.OutboundEdge(v, i, e)
}

// Err reports why the store can no longer serve reads: it was closed, or
// a read of the file failed (hherr.ErrIO). It returns nil otherwise.
func (s *Store) Err() error {
	if s.src == nil {
		return ErrClosed
	}
	return s.src.err
}

func (s *Store) spatialIndex() (spatial.Index, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if s.spatial != nil {
		return s.spatial, nil
	}
	tree, err := spatial.Open(s.src, s.hdr.Spatial.Start, s.hdr.Spatial.End)
	if err != nil {
		return nil, fmt.Errorf("open spatial index: %w", err)
	}
	if !s.cfg.SpatialInMemory {
		s.spatial = tree
		return tree, nil
	}
	mem, err := spatial.LoadMemory(tree)
	if err != nil {
		return nil, fmt.Errorf("load spatial index: %w", err)
	}
	s.spatial = mem
	return mem, nil
}

func clampE6(v int64) int32 {
	return int32(max(min(v, math.MaxInt32), math.MinInt32))
}

// NearestVertex fills v with the level-0 vertex closest to (lat, lon) by
// great-circle distance, considering only vertices within radiusMeters.
// Equal distances resolve to the smaller vertex id.
func (s *Store) NearestVertex(lat, lon, radiusMeters float64, v *block.Vertex) error {
	err := s.nearest(lat, lon, radiusMeters, v)
	switch {
	case err == nil:
		metrics.NearestQueries.WithLabelValues("found").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.NearestQueries.WithLabelValues("not_found").Inc()
	default:
		metrics.NearestQueries.WithLabelValues("error").Inc()
	}
	return err
}

func (s *Store) nearest(lat, lon, radiusMeters float64, v *block.Vertex) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(radiusMeters) || radiusMeters < 0 {
		return fmt.Errorf("%w: invalid query (%v, %v) radius %v", hherr.ErrOutOfRange, lat, lon, radiusMeters)
	}
	idx, err := s.spatialIndex()
	if err != nil {
		return err
	}

	dLat, dLon := geo.SearchBox(lat, radiusMeters)
	latE6, lonE6 := int64(geo.ToE6(lat)), int64(geo.ToE6(lon))
	q := spatial.Rect{
		MinLon: clampE6(lonE6 - dLon),
		MaxLon: clampE6(lonE6 + dLon),
		MinLat: clampE6(latE6 - dLat),
		MaxLat: clampE6(latE6 + dLat),
	}
	candidates, err := idx.Overlaps(q)
	if err != nil {
		return err
	}
	slices.Sort(candidates)

	best := math.Inf(1)
	found := false
	var cur block.Vertex
	for _, id := range candidates {
		b, err := s.Block(id)
		if err != nil {
			return err
		}
		if b.Level() != 0 {
			return fmt.Errorf("%w: spatial entry points at block %d of level %d", hherr.ErrDecode, id, b.Level())
		}
		for i := range b.NumVertices() {
			if err := b.Vertex(i, &cur); err != nil {
				return err
			}
			d := geo.Haversine(lat, lon, geo.FromE6(cur.Lat), geo.FromE6(cur.Lon))
			if d > radiusMeters {
				continue
			}
			if !found || d < best || (d == best && cur.ID < v.ID) {
				*v = cur
				best = d
				found = true
			}
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	out := s.stats
	out.BlockReadsPerLevel = slices.Clone(s.stats.BlockReadsPerLevel)
	out.Cache = s.blocks.Stats()
	return out
}

// Close releases cached blocks and the file. Calling Close again is a no-op.
func (s *Store) Close() error {
	if s.src == nil {
		return nil
	}
	s.blocks.Clear()
	s.spatial = nil
	err := s.src.Close()
	s.src = nil
	return err
}
