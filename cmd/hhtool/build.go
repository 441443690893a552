package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hh_router/pkg/graph"
	"hh_router/pkg/hierarchy"
	osmparser "hh_router/pkg/osm"
	"hh_router/pkg/store"
)

var (
	buildInput        string
	buildOutput       string
	buildBBox         string
	buildLevels       int
	buildClusterSize  int
	buildNeighborhood int
	buildContract     float64
	buildGroupSize    int
	buildPageSize     int
	buildMinComponent int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a graph file from an OSM PBF extract",
	Long: `Parse car-accessible ways from an OSM PBF extract, keep the largest
connected component, contract it into levels and write the graph file.

Examples:
  hhtool build --input berlin.osm.pbf --output berlin.hh
  hhtool build --input europe.osm.pbf --bbox 52.3,13.0,52.7,13.8 --levels 4`,
	RunE: runBuild,
}

func init() {
	def := hierarchy.DefaultOptions()
	wdef := store.DefaultWriteOptions()
	f := buildCmd.Flags()
	f.StringVarP(&buildInput, "input", "i", "", "path to .osm.pbf file")
	f.StringVarP(&buildOutput, "output", "o", "graph.hh", "output graph file")
	f.StringVar(&buildBBox, "bbox", "", "bounding box filter: minLat,minLng,maxLat,maxLng")
	f.IntVar(&buildLevels, "levels", def.NumLevels, "number of hierarchy levels")
	f.IntVar(&buildClusterSize, "cluster-size", def.ClusterSize, "maximum vertices per cluster block")
	f.IntVar(&buildNeighborhood, "neighborhood", def.NeighborhoodSize, "settled vertices defining the neighborhood radius")
	f.Float64Var(&buildContract, "contract", def.ContractFraction, "fraction of each level contracted away")
	f.IntVar(&buildGroupSize, "group-size", wdef.MaxGroupSize, "maximum address index group size")
	f.IntVar(&buildPageSize, "page-size", wdef.PageSize, "spatial index page size in bytes")
	f.IntVar(&buildMinComponent, "min-component", 0, "also keep disconnected components with at least this many nodes (0 = largest only)")
	buildCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(buildCmd)
}

func parseBBox(s string) (osmparser.BBox, error) {
	var b osmparser.BBox
	if s == "" {
		return b, nil
	}
	if _, err := fmt.Sscanf(s, "%f,%f,%f,%f", &b.MinLat, &b.MinLon, &b.MaxLat, &b.MaxLon); err != nil {
		return b, fmt.Errorf("invalid bbox %q (expected minLat,minLng,maxLat,maxLng): %w", s, err)
	}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return b, fmt.Errorf("invalid bbox %q: empty area", s)
	}
	return b, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	bbox, err := parseBBox(buildBBox)
	if err != nil {
		return err
	}
	start := time.Now()

	f, err := os.Open(buildInput)
	if err != nil {
		return err
	}
	defer f.Close()

	log.Println("Parsing OSM data...")
	parsed, err := osmparser.Parse(cmd.Context(), f, osmparser.ParseOptions{BBox: bbox})
	if err != nil {
		return fmt.Errorf("parse %s: %w", buildInput, err)
	}
	log.Printf("Parsed %d edges, %d nodes", len(parsed.Edges), len(parsed.Nodes))

	g := graph.Build(parsed)
	log.Printf("Graph: %d nodes, %d edges", g.NumNodes, g.NumEdges)
	if g.NumNodes == 0 {
		return fmt.Errorf("no routable ways in %s", buildInput)
	}

	var kept []uint32
	if buildMinComponent > 0 {
		kept = graph.KeepComponents(g, buildMinComponent)
		log.Printf("Components of at least %d nodes: %d nodes (%.1f%%)", buildMinComponent, len(kept), float64(len(kept))/float64(g.NumNodes)*100)
	} else {
		kept = graph.LargestComponent(g)
		log.Printf("Largest component: %d nodes (%.1f%%)", len(kept), float64(len(kept))/float64(g.NumNodes)*100)
	}
	g = graph.FilterToComponent(g, kept)

	log.Println("Building hierarchy...")
	h, err := hierarchy.Build(g, hierarchy.Options{
		NumLevels:        buildLevels,
		ClusterSize:      buildClusterSize,
		NeighborhoodSize: buildNeighborhood,
		ContractFraction: buildContract,
	})
	if err != nil {
		return err
	}

	log.Printf("Writing %s...", buildOutput)
	res, err := store.Write(buildOutput, h, store.WriteOptions{MaxGroupSize: buildGroupSize, PageSize: buildPageSize})
	if err != nil {
		return err
	}
	for l, n := range res.BlocksPerLevel {
		log.Printf("Level %d: %d blocks", l, n)
	}
	log.Printf("Done in %s. Output: %s (%.1f MB, index %d bytes, spatial %d bytes)",
		time.Since(start).Round(time.Second), buildOutput, float64(res.FileBytes)/(1024*1024), res.IndexBytes, res.SpatialBytes)
	return nil
}
