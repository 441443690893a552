package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"hh_router/pkg/api"
	"hh_router/pkg/config"
	"hh_router/pkg/router"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	graphPath := flag.String("graph", "", "Path to graph file (overrides config)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *graphPath != "" {
		cfg.Server.GraphPath = *graphPath
	}
	if *port != 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	if *corsOrigin != "" {
		cfg.Server.CORSOrigin = *corsOrigin
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	start := time.Now()
	log.Printf("Opening %d routers on %s...", cfg.Server.MaxConcurrent, cfg.Server.GraphPath)
	routers := make([]*router.Router, 0, cfg.Server.MaxConcurrent)
	for range cfg.Server.MaxConcurrent {
		r, err := router.Open(cfg.Server.GraphPath, cfg.Store)
		if err != nil {
			for _, r := range routers {
				r.Close()
			}
			log.Fatalf("Failed to open graph: %v", err)
		}
		routers = append(routers, r)
	}
	info := routers[0].Store().Info()
	log.Printf("Loaded: %d blocks, %d levels, %d bytes", info.NumBlocks, info.Params.NumLevels, info.FileBytes)
	log.Printf("Ready in %s", time.Since(start).Round(time.Millisecond))

	handlers := api.NewHandlers(routers, cfg.Nearest, cfg.Store)
	srv := api.NewServer(cfg.Server, handlers)

	err := api.ListenAndServe(srv)
	if cerr := handlers.Close(); cerr != nil {
		log.Printf("Closing routers: %v", cerr)
	}
	if err != nil {
		log.Printf("Server stopped: %v", err)
		os.Exit(1)
	}
}
