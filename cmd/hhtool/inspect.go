package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"hh_router/pkg/block"
	"hh_router/pkg/router"
	"hh_router/pkg/store"
)

var (
	inspectCacheBytes int64
	inspectMmap       bool
	nearestRadius     float64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <graph>",
	Short: "Print the header and section layout of a graph file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRouter(args[0], func(r *router.Router) error {
			return printJSON(cmd.OutOrStdout(), r.Store().Info())
		})
	},
}

var vertexCmd = &cobra.Command{
	Use:   "vertex <graph> <id>",
	Short: "Print one vertex and its outbound edges",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid vertex id %q: %w", args[1], err)
		}
		return withRouter(args[0], func(r *router.Router) error {
			ref, err := r.Vertex(block.VertexID(id))
			if err != nil {
				return err
			}
			defer r.ReleaseVertex(ref)
			return printVertex(cmd.OutOrStdout(), r, ref.MustGet())
		})
	},
}

var nearestCmd = &cobra.Command{
	Use:   "nearest <graph> <lat> <lng>",
	Short: "Print the level-zero vertex closest to a coordinate",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err1 := strconv.ParseFloat(args[1], 64)
		lng, err2 := strconv.ParseFloat(args[2], 64)
		if err := errors.Join(err1, err2); err != nil {
			return fmt.Errorf("invalid coordinate: %w", err)
		}
		return withRouter(args[0], func(r *router.Router) error {
			ref, err := r.NearestVertex(lat, lng, nearestRadius)
			if err != nil {
				return err
			}
			defer r.ReleaseVertex(ref)
			return printVertex(cmd.OutOrStdout(), r, ref.MustGet())
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{inspectCmd, vertexCmd, nearestCmd} {
		c.Flags().Int64Var(&inspectCacheBytes, "cache-bytes", store.DefaultConfig().CacheBytes, "block cache budget in bytes (0 = unbounded)")
		c.Flags().BoolVar(&inspectMmap, "mmap", false, "memory-map the graph file")
		rootCmd.AddCommand(c)
	}
	nearestCmd.Flags().Float64Var(&nearestRadius, "radius", 1000, "search radius in meters")
}

func withRouter(path string, fn func(*router.Router) error) error {
	r, err := router.Open(path, store.Config{CacheBytes: inspectCacheBytes, Mmap: inspectMmap})
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

type vertexOutput struct {
	Vertex block.Vertex `json:"vertex"`
	Edges  []block.Edge `json:"edges"`
}

func printVertex(w io.Writer, r *router.Router, v *block.Vertex) error {
	out := vertexOutput{Vertex: *v, Edges: make([]block.Edge, 0, v.NumOutbound())}
	for i := range v.NumOutbound() {
		ref, err := r.OutboundEdge(v, i)
		if err != nil {
			return err
		}
		out.Edges = append(out.Edges, *ref.MustGet())
		r.ReleaseEdge(ref)
	}
	return printJSON(w, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
