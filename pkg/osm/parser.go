// Package osm extracts a drivable road graph from an OSM PBF extract.
package osm

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"hh_router/pkg/geo"
)

// Coord is a node position in microdegrees.
type Coord struct {
	Lat, Lon int32
}

// RawEdge is a directed road segment between two OSM nodes.
type RawEdge struct {
	From, To osm.NodeID
	Weight   uint32 // millimeters
}

// ParseResult holds the road segments and the coordinates of their nodes.
type ParseResult struct {
	Edges []RawEdge
	Nodes map[osm.NodeID]Coord
}

// carHighways lists highway tag values accessible by car.
var carHighways = map[string]bool{
	"motorway":       true,
	"motorway_link":  true,
	"trunk":          true,
	"trunk_link":     true,
	"primary":        true,
	"primary_link":   true,
	"secondary":      true,
	"secondary_link": true,
	"tertiary":       true,
	"tertiary_link":  true,
	"unclassified":   true,
	"residential":    true,
	"living_street":  true,
	"service":        true,
}

// isCarAccessible returns true if the way is drivable by car.
func isCarAccessible(tags osm.Tags) bool {
	if !carHighways[tags.Find("highway")] {
		return false
	}
	if tags.Find("area") == "yes" {
		return false
	}
	switch tags.Find("access") {
	case "no", "private":
		return false
	}
	return tags.Find("motor_vehicle") != "no"
}

// directionFlags returns (forward, backward) from the highway type and
// oneway tags.
func directionFlags(tags osm.Tags) (forward, backward bool) {
	forward, backward = true, true

	hw := tags.Find("highway")
	if hw == "motorway" || hw == "motorway_link" || tags.Find("junction") == "roundabout" {
		backward = false
	}

	switch tags.Find("oneway") {
	case "yes", "true", "1":
		forward, backward = true, false
	case "-1", "reverse":
		forward, backward = false, true
	case "no":
		forward, backward = true, true
	case "reversible":
		// Time-dependent, skipped.
		forward, backward = false, false
	}
	return forward, backward
}

type way struct {
	nodes    []osm.NodeID
	forward  bool
	backward bool
}

// BBox limits the extract to edges with both endpoints inside. The zero
// value keeps everything.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// IsZero reports whether the box is unset.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Contains reports whether the point is inside the box.
func (b BBox) Contains(c Coord) bool {
	lat, lon := geo.FromE6(c.Lat), geo.FromE6(c.Lon)
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ParseOptions configures the parser.
type ParseOptions struct {
	BBox BBox
}

// Parse reads the PBF twice: ways first, then the nodes they reference.
func Parse(ctx context.Context, rs io.ReadSeeker, opt ParseOptions) (*ParseResult, error) {
	referenced := make(map[osm.NodeID]struct{})
	var ways []way

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok || len(w.Nodes) < 2 || !isCarAccessible(w.Tags) {
			continue
		}
		fwd, bwd := directionFlags(w.Tags)
		if !fwd && !bwd {
			continue
		}
		ids := w.Nodes.NodeIDs()
		for _, id := range ids {
			referenced[id] = struct{}{}
		}
		ways = append(ways, way{nodes: ids, forward: fwd, backward: bwd})
	}
	err := scanner.Err()
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan ways: %w", err)
	}
	log.Printf("Ways: %d drivable, %d referenced nodes", len(ways), len(referenced))

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}

	nodes := make(map[osm.NodeID]Coord, len(referenced))
	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referenced[n.ID]; needed {
			nodes[n.ID] = Coord{Lat: geo.ToE6(n.Lat), Lon: geo.ToE6(n.Lon)}
		}
	}
	err = scanner.Err()
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	log.Printf("Nodes: %d coordinates", len(nodes))

	return buildEdges(ways, nodes, opt), nil
}

// segmentWeight returns the segment length in millimeters, at least 1.
func segmentWeight(a, b Coord) uint32 {
	mm := math.Round(geo.HaversineE6(a.Lat, a.Lon, b.Lat, b.Lon) * 1000)
	return uint32(max(mm, 1))
}

func buildEdges(ways []way, nodes map[osm.NodeID]Coord, opt ParseOptions) *ParseResult {
	var (
		edges                   []RawEdge
		missing, outside, loops int
	)
	for _, w := range ways {
		for i := 0; i+1 < len(w.nodes); i++ {
			from, to := w.nodes[i], w.nodes[i+1]
			if from == to {
				loops++
				continue
			}
			a, okA := nodes[from]
			b, okB := nodes[to]
			if !okA || !okB {
				missing++
				continue
			}
			if !opt.BBox.IsZero() && (!opt.BBox.Contains(a) || !opt.BBox.Contains(b)) {
				outside++
				continue
			}
			weight := segmentWeight(a, b)
			if w.forward {
				edges = append(edges, RawEdge{From: from, To: to, Weight: weight})
			}
			if w.backward {
				edges = append(edges, RawEdge{From: to, To: from, Weight: weight})
			}
		}
	}
	if missing > 0 {
		log.Printf("Warning: skipped %d segments with missing node coordinates", missing)
	}
	if outside > 0 {
		log.Printf("Filtered %d segments outside bounding box", outside)
	}
	if loops > 0 {
		log.Printf("Skipped %d repeated-node segments", loops)
	}
	log.Printf("Built %d directed edges", len(edges))

	used := make(map[osm.NodeID]Coord)
	for _, e := range edges {
		used[e.From] = nodes[e.From]
		used[e.To] = nodes[e.To]
	}
	return &ParseResult{Edges: edges, Nodes: used}
}
