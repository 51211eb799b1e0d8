// Package config loads optional YAML configuration for the server. Flags
// and environment variables on the command line take precedence; the file
// exists for deployments that prefer external configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-backed server configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. "0.0.0.0:8080".
	Listen string `yaml:"listen"`

	// DefaultAsyncAfter bounds how long an await request blocks when the
	// client does not specify asyncAfter.
	DefaultAsyncAfter time.Duration `yaml:"default_async_after"`

	Store StoreConfig `yaml:"store"`
	Bus   BusConfig   `yaml:"bus"`
}

// StoreConfig selects and configures the job/result store backend.
type StoreConfig struct {
	// Type is "memory" or "postgres".
	Type string `yaml:"type"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	ConnString  string `yaml:"conn_string"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// BusConfig selects and configures the notification bus backend.
type BusConfig struct {
	// Type is "channel" or "redis".
	Type string `yaml:"type"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis pub/sub bus.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:            "0.0.0.0:8080",
		DefaultAsyncAfter: 10 * time.Second,
		Store:             StoreConfig{Type: "memory"},
		Bus:               BusConfig{Type: "channel", Redis: RedisConfig{Channel: "queryjobs.results"}},
	}
}

// Load parses the YAML config file at path, layered over Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the backend selections are recognised.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	switch c.Bus.Type {
	case "channel", "redis":
	default:
		return fmt.Errorf("unknown bus type %q", c.Bus.Type)
	}

	if c.Store.Type == "postgres" && c.Store.Postgres.ConnString == "" {
		return fmt.Errorf("postgres store requires conn_string")
	}
	if c.Bus.Type == "redis" && c.Bus.Redis.Addr == "" {
		return fmt.Errorf("redis bus requires addr")
	}
	return nil
}
