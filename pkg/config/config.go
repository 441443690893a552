// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"hh_router/pkg/store"
)

// Config is the root of the configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   store.Config  `yaml:"store"`
	Nearest NearestConfig `yaml:"nearest"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	GraphPath      string        `yaml:"graph"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxConcurrent is the number of routers, each with its own file
	// handle and block cache, serving requests in parallel.
	MaxConcurrent int    `yaml:"max_concurrent"`
	CORSOrigin    string `yaml:"cors_origin"`
}

// NearestConfig bounds nearest-vertex queries.
type NearestConfig struct {
	DefaultRadiusMeters float64 `yaml:"default_radius_meters"`
	MaxRadiusMeters     float64 `yaml:"max_radius_meters"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			GraphPath:      "graph.hh",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxConcurrent:  runtime.NumCPU() * 2,
		},
		Store: store.DefaultConfig(),
		Nearest: NearestConfig{
			DefaultRadiusMeters: 500,
			MaxRadiusMeters:     5000,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrent %d must be positive", c.Server.MaxConcurrent))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must be positive", c.Server.RequestTimeout))
	}
	if c.Nearest.MaxRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("nearest.max_radius_meters %v must be positive", c.Nearest.MaxRadiusMeters))
	}
	if c.Nearest.DefaultRadiusMeters <= 0 || c.Nearest.DefaultRadiusMeters > c.Nearest.MaxRadiusMeters {
		errs = append(errs, fmt.Errorf("nearest.default_radius_meters %v must be in (0, %v]",
			c.Nearest.DefaultRadiusMeters, c.Nearest.MaxRadiusMeters))
	}
	return errors.Join(errs...)
}
