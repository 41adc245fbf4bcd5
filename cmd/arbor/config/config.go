// Package config provides configuration structures for the arbor tool.
package config

import (
	"fmt"
	"time"

	"github.com/TFMV/arbor/pkg/repositories"
	"github.com/TFMV/arbor/pkg/services"
)

// Config represents the tool configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Backend connections
	Backends BackendsConfig `yaml:"backends" json:"backends"`

	// Connection settings shared by every backend
	Pool PoolConfig `yaml:"pool" json:"pool"`

	Migrate MigrateConfig `yaml:"migrate" json:"migrate"`
	Fill    FillConfig    `yaml:"fill" json:"fill"`
	Analyze AnalyzeConfig `yaml:"analyze" json:"analyze"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// BackendsConfig holds one database per backend.
type BackendsConfig struct {
	JSON          BackendConfig `yaml:"json" json:"json"`
	EAV           BackendConfig `yaml:"eav" json:"eav"`
	AtomicBatches bool          `yaml:"atomic_batches" json:"atomic_batches"`
}

// BackendConfig represents a single backend database.
type BackendConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// PoolConfig represents connection configuration.
type PoolConfig struct {
	ConnectionTimeout  time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period"`
	LogQueries         bool          `yaml:"log_queries" json:"log_queries"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold"`
}

// MigrateConfig represents the migrate command configuration.
type MigrateConfig struct {
	Backends []string `yaml:"backends" json:"backends"`
}

// FillConfig represents the fill command configuration.
type FillConfig struct {
	BatchSize  int      `yaml:"batch_size" json:"batch_size"`
	PlantCount int      `yaml:"plant_count" json:"plant_count"`
	Workers    int      `yaml:"workers" json:"workers"`
	Seed       int64    `yaml:"seed" json:"seed"`
	Backends   []string `yaml:"backends" json:"backends"`
}

// AnalyzeConfig represents the analyze command configuration.
type AnalyzeConfig struct {
	Query      string   `yaml:"query" json:"query"`
	Iterations int      `yaml:"iterations" json:"iterations"`
	Format     string   `yaml:"format" json:"format"`
	Backends   []string `yaml:"backends" json:"backends"`
}

// SyncConfig represents the photo reconciliation configuration.
type SyncConfig struct {
	Endpoint     string   `yaml:"endpoint" json:"endpoint"`
	AccessKey    string   `yaml:"access_key" json:"access_key"`
	SecretKey    string   `yaml:"secret_key" json:"secret_key"`
	Secure       bool     `yaml:"secure" json:"secure"`
	Buckets      []string `yaml:"buckets" json:"buckets"`
	FSRoot       string   `yaml:"fs_root" json:"fs_root"`
	MinFreeSpace uint64   `yaml:"min_free_space" json:"min_free_space"`
	// Backend whose file table is reconciled.
	Backend string `yaml:"backend" json:"backend"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// Validate fills defaults and checks values that do not depend on the
// command being run.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}

	if c.Pool.ConnectionTimeout <= 0 {
		c.Pool.ConnectionTimeout = 10 * time.Second
	}
	if c.Pool.SlowQueryThreshold <= 0 {
		c.Pool.SlowQueryThreshold = time.Second
	}

	if len(c.Migrate.Backends) == 0 {
		c.Migrate.Backends = append([]string(nil), repositories.Backends...)
	}
	if err := checkBackends(c.Migrate.Backends); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if c.Fill.BatchSize <= 0 {
		c.Fill.BatchSize = 100
	}
	if c.Fill.PlantCount < 0 {
		return fmt.Errorf("plant count must not be negative")
	}
	if c.Fill.Workers <= 0 {
		c.Fill.Workers = 1
	}
	if len(c.Fill.Backends) == 0 {
		c.Fill.Backends = append([]string(nil), repositories.Backends...)
	}
	if err := checkBackends(c.Fill.Backends); err != nil {
		return fmt.Errorf("fill: %w", err)
	}

	if c.Analyze.Iterations <= 0 {
		c.Analyze.Iterations = 1
	}
	switch c.Analyze.Format {
	case "":
		c.Analyze.Format = services.FormatMarkdown
	case services.FormatJSON, services.FormatCSV, services.FormatMarkdown, "md":
	default:
		return fmt.Errorf("unsupported report format: %s", c.Analyze.Format)
	}
	if len(c.Analyze.Backends) == 0 {
		c.Analyze.Backends = append([]string(nil), repositories.Backends...)
	}
	if err := checkBackends(c.Analyze.Backends); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if c.Sync.MinFreeSpace == 0 {
		c.Sync.MinFreeSpace = services.DefaultMinFreeSpace
	}
	if c.Sync.Backend == "" {
		c.Sync.Backend = repositories.BackendJSON
	}
	if err := checkBackends([]string{c.Sync.Backend}); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	return nil
}

// DSN returns the connection string configured for a backend.
func (c *Config) DSN(identity string) (string, error) {
	var dsn string
	switch identity {
	case repositories.BackendJSON:
		dsn = c.Backends.JSON.DSN
	case repositories.BackendEAV:
		dsn = c.Backends.EAV.DSN
	default:
		return "", fmt.Errorf("unknown backend: %s", identity)
	}
	if dsn == "" {
		return "", fmt.Errorf("backends.%s.dsn is required", identity)
	}
	return dsn, nil
}

// ValidateSync checks the settings only the sync command needs.
func (c *Config) ValidateSync() error {
	if c.Sync.Endpoint == "" {
		return fmt.Errorf("sync.endpoint is required")
	}
	if len(c.Sync.Buckets) == 0 {
		return fmt.Errorf("sync.buckets must list at least one bucket")
	}
	if c.Sync.FSRoot == "" {
		return fmt.Errorf("sync.fs_root is required")
	}
	return nil
}

func checkBackends(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		switch id {
		case repositories.BackendJSON, repositories.BackendEAV:
		default:
			return fmt.Errorf("unknown backend: %s", id)
		}
		if seen[id] {
			return fmt.Errorf("backend listed twice: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Backends: BackendsConfig{
			AtomicBatches: true,
		},
		Pool: PoolConfig{
			ConnectionTimeout:  10 * time.Second,
			SlowQueryThreshold: time.Second,
		},
		Migrate: MigrateConfig{
			Backends: []string{repositories.BackendJSON, repositories.BackendEAV},
		},
		Fill: FillConfig{
			BatchSize: 100,
			Workers:   1,
			Backends:  []string{repositories.BackendJSON, repositories.BackendEAV},
		},
		Analyze: AnalyzeConfig{
			Iterations: 1,
			Format:     services.FormatMarkdown,
			Backends:   []string{repositories.BackendJSON, repositories.BackendEAV},
		},
		Sync: SyncConfig{
			MinFreeSpace: services.DefaultMinFreeSpace,
			Backend:      repositories.BackendJSON,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}
