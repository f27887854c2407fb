// Package config provides configuration for cartograph tools.
//
// Values come from, in increasing priority: built-in defaults, an optional YAML file,
// CARTOGRAPH_* environment variables, and whatever the caller sets afterwards (CLI flags).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverDir      = "dir"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds tool configuration.
type Config struct {
	Storage Storage `yaml:"storage"`
	History History `yaml:"history"`
	Cache   Cache   `yaml:"cache"`
	Log     Log     `yaml:"log"`
}

// Storage selects and addresses the project store.
type Storage struct {
	// Driver is one of memory, dir, sqlite, postgres, badger.
	Driver string `yaml:"driver"`
	// DSN is the database connection string for sqlite and postgres.
	DSN string `yaml:"dsn"`
	// Path is the root directory for the dir and badger drivers.
	Path string `yaml:"path"`
}

// History configures undo depth.
type History struct {
	// MaxDepth limits undo; 0 is unlimited.
	MaxDepth int `yaml:"max_depth"`
}

// Cache configures the migrated-snapshot cache.
type Cache struct {
	// Size is the number of snapshots kept; 0 disables the cache.
	Size int `yaml:"size"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: Storage{Driver: DriverDir, Path: "./data"},
		History: History{MaxDepth: 100},
		Cache:   Cache{Size: 32},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads path (skipped when empty) over the defaults and applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CARTOGRAPH_* environment variables.
func (c *Config) ApplyEnv() {
	c.Storage.Driver = getEnv("CARTOGRAPH_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("CARTOGRAPH_STORAGE_DSN", c.Storage.DSN)
	c.Storage.Path = getEnv("CARTOGRAPH_DATA", c.Storage.Path)
	c.Log.Level = getEnv("CARTOGRAPH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CARTOGRAPH_LOG_FORMAT", c.Log.Format)
	c.History.MaxDepth = getEnvInt("CARTOGRAPH_HISTORY_MAX_DEPTH", c.History.MaxDepth)
	c.Cache.Size = getEnvInt("CARTOGRAPH_CACHE_SIZE", c.Cache.Size)
}

// Validate rejects unknown drivers, missing addresses and negative sizes.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverDir, DriverBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %s", c.Storage.Driver)
		}
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.History.MaxDepth < 0 {
		return fmt.Errorf("history.max_depth must not be negative, got %d", c.History.MaxDepth)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
