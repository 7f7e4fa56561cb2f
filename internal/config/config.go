// Package config loads goloader settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g.
// GOLOADER_NUM_WORKERS.
const Prefix = "GOLOADER"

// Config holds reading service and logging configuration.
type Config struct {
	NumWorkers     int           `envconfig:"NUM_WORKERS" default:"0"`
	WorkerPrefetch int           `envconfig:"WORKER_PREFETCH" default:"10"`
	MainPrefetch   int           `envconfig:"MAIN_PREFETCH" default:"10"`
	QueueCapacity  int           `envconfig:"QUEUE_CAPACITY" default:"16"`
	DispatchBuffer int           `envconfig:"DISPATCH_BUFFER" default:"1000"`
	JoinTimeout    time.Duration `envconfig:"JOIN_TIMEOUT" default:"20s"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// default configuration if it is invalid.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		NumWorkers:     0,
		WorkerPrefetch: 10,
		MainPrefetch:   10,
		QueueCapacity:  16,
		DispatchBuffer: 1000,
		JoinTimeout:    20 * time.Second,
		LogLevel:       "info",
	}
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.NumWorkers < 0:
		return fmt.Errorf("config: NUM_WORKERS must not be negative, got %d", c.NumWorkers)
	case c.WorkerPrefetch < 0:
		return fmt.Errorf("config: WORKER_PREFETCH must not be negative, got %d", c.WorkerPrefetch)
	case c.MainPrefetch < 0:
		return fmt.Errorf("config: MAIN_PREFETCH must not be negative, got %d", c.MainPrefetch)
	case c.QueueCapacity < 1:
		return fmt.Errorf("config: QUEUE_CAPACITY must be at least 1, got %d", c.QueueCapacity)
	case c.DispatchBuffer < 1:
		return fmt.Errorf("config: DISPATCH_BUFFER must be at least 1, got %d", c.DispatchBuffer)
	case c.JoinTimeout <= 0:
		return fmt.Errorf("config: JOIN_TIMEOUT must be positive, got %s", c.JoinTimeout)
	}
	return nil
}
