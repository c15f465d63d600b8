// Package config handles loading and validating the reportd.yaml
// configuration. reportd runs with zero config (in-memory stores, built-in
// sample catalog); reportd.yaml wires up Postgres, a catalog file, data
// sources, and S3 export delivery.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level reportd.yaml configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Sources   SourcesConfig   `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`         // listen address, default ":8080"
	CORSOrigins []string `yaml:"cors_origins"` // allowed origins, default localhost:3000
}

// DatabaseConfig selects the persistence backend. An empty URL runs the
// in-memory stores.
type DatabaseConfig struct {
	URL string `yaml:"url"` // Postgres DSN; DATABASE_URL env overrides
}

// CatalogConfig points at the field catalog definition.
type CatalogConfig struct {
	Path string `yaml:"path"` // catalog YAML file; empty = built-in sample catalog
}

// SourcesConfig maps data source IDs to Arrow IPC files on disk. Sources
// without a file entry are served from the built-in sample rows.
type SourcesConfig struct {
	ArrowFiles map[string]string `yaml:"arrow_files"`
}

// CacheConfig tunes the execution result cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"` // default 1024
}

// SchedulerConfig tunes the background schedule checker.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default 30s
}

// DeliveryConfig wires scheduled exports to S3-compatible storage. Delivery
// is off unless an endpoint is configured.
type DeliveryConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// DefaultConfig returns the zero-configuration defaults: in-memory stores,
// built-in catalog, scheduler on, no delivery.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Cache: CacheConfig{
			MaxEntries: 1024,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
	}
}

// Load parses a reportd.yaml file and validates it. If path is empty,
// returns the zero-config defaults. DATABASE_URL, when set, overrides the
// file's database URL either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: REPORTD_CONFIG env var > ./reportd.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("REPORTD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("reportd.yaml"); err == nil {
		return "reportd.yaml"
	}
	return ""
}

// validate checks cross-field requirements.
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1024
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 30 * time.Second
	}
	if c.Delivery.Endpoint != "" && c.Delivery.Bucket == "" {
		return fmt.Errorf("delivery: bucket is required when endpoint is set")
	}
	for id, path := range c.Sources.ArrowFiles {
		if path == "" {
			return fmt.Errorf("sources: arrow file path for %q is empty", id)
		}
	}
	return nil
}
