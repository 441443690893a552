// Package metrics defines the Prometheus collectors of the service.
// Collectors are registered on the default registry through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_router_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hh_router_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// BlockReads counts cluster blocks read from disk, by hierarchy level.
	BlockReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_router_block_reads_total",
			Help: "Cluster blocks read from the graph file",
		},
		[]string{"level"},
	)

	// BlockBytesRead counts bytes of cluster blocks read from disk.
	BlockBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hh_router_block_bytes_read_total",
			Help: "Bytes of cluster blocks read from the graph file",
		},
	)

	// BlockDecodeDuration measures block header parsing.
	BlockDecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hh_router_block_decode_duration_seconds",
			Help:    "Time spent decoding cluster block headers",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		},
	)

	// NearestQueries counts nearest-vertex queries by outcome
	// (found, not_found, error).
	NearestQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_router_nearest_queries_total",
			Help: "Nearest-vertex queries by outcome",
		},
		[]string{"outcome"},
	)

	// RoutersInUse tracks borrowed router instances.
	RoutersInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hh_router_routers_in_use",
			Help: "Router instances currently serving a request",
		},
	)
)
