// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port"`
	} `yaml:"http"`
	Database struct {
		// PostgresURL selects the PostgreSQL backend when set.
		PostgresURL string `yaml:"postgres_url"`
		// SQLitePath selects the SQLite backend when set (and Postgres is not).
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		// URL enables the Redis read-through cache when set.
		URL        string `yaml:"url"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"redis"`
}

// Load reads config from a YAML file (missing file is fine), then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL_SECONDS: %w", err)
		}
		cfg.Redis.TTLSeconds = ttl
	}

	// Defaults
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.Redis.TTLSeconds == 0 {
		cfg.Redis.TTLSeconds = 30
	}

	return cfg, nil
}
