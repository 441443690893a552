package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hh_router/pkg/config"
	"hh_router/pkg/metrics"
)

// NewServer creates an HTTP server with all routes and middleware.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *http.Server {
	mux := http.NewServeMux()

	route := func(pattern, path string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, withMiddleware(path, h, cfg))
	}
	route("GET /api/v1/nearest", "/api/v1/nearest", handlers.HandleNearest)
	route("GET /api/v1/vertices/{id}", "/api/v1/vertices/{id}", handlers.HandleVertex)
	route("GET /api/v1/health", "/api/v1/health", handlers.HandleHealth)
	route("GET /api/v1/stats", "/api/v1/stats", handlers.HandleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// ListenAndServe starts the server and blocks until shutdown signal.
func ListenAndServe(srv *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("Received %s, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// statusRecorder captures the response status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.NewString()
}

// withMiddleware wraps a handler with security headers, CORS, request ids,
// recovery, a request timeout, access logging and request metrics. path is
// the route pattern used as the metrics label.
func withMiddleware(path string, handler http.HandlerFunc, cfg config.ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		if cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
		}
		id := requestID(r)
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("panic [%s]: %v", id, p)
				writeError(rec, http.StatusInternalServerError, "internal_error", "")
			}
			elapsed := time.Since(start)
			log.Printf("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Microsecond), id)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		}()

		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()
		handler(rec, r.WithContext(ctx))
	}
}
