// Package config provides configuration management for go-rangeview.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

var AppVersion = "-unset-" // will be set at build time

const (
	// Partition defaults
	DefaultPartitions = 3
	MaxPartitions     = 64
	DefaultWorkers    = 32

	// Database defaults
	DefaultDriver       = "sqlite3"
	DefaultTable        = "users"
	DefaultQueryTimeout = 10 * time.Second
	DefaultMaxOpenConns = 16

	// Secondary preview source
	DefaultSecondaryLimit = 5

	// Web defaults
	DefaultListenPort         = 11980
	DefaultRateLimitPerMinute = 600
	DefaultRateLimitBurst     = 60
)

// identRE matches table names that are safe to interpolate into SQL
var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// MainConfig holds the main configuration for go-rangeview
type MainConfig struct {
	// Mutex for thread-safe access
	mux sync.Mutex `yaml:"-" mapstructure:"-"`

	// Web interface settings
	Web WebConfig `yaml:"web" mapstructure:"web"`

	// Primary (range partitioned) database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Optional secondary preview source
	Secondary SecondaryConfig `yaml:"secondary" mapstructure:"secondary"`

	SentryDSN string `yaml:"sentry_dsn" mapstructure:"sentry_dsn"` // report query failures when set
	PprofAddr string `yaml:"pprof_addr" mapstructure:"pprof_addr"` // e.g. ":51111", empty disables

	AppVersion string `yaml:"-" mapstructure:"-"` // Application version, set at build time
}

// WebConfig holds web interface configuration
type WebConfig struct {
	ListenPort         int      `yaml:"listen_port" mapstructure:"listen_port"`
	SSL                bool     `yaml:"ssl" mapstructure:"ssl"`
	CertFile           string   `yaml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile            string   `yaml:"key_file,omitempty" mapstructure:"key_file"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	RateLimitBurst     int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	TrustedProxies     []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
	Debug              bool     `yaml:"debug" mapstructure:"debug"` // gin debug mode + request logging
}

// DatabaseConfig holds the primary database binding and the scan settings
type DatabaseConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"` // sqlite3 or postgres
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`       // empty: binding unavailable
	Table         string        `yaml:"table" mapstructure:"table"`
	Partitions    int           `yaml:"partitions" mapstructure:"partitions"`         // k
	Concurrent    bool          `yaml:"concurrent" mapstructure:"concurrent"`         // fetch ranges in parallel
	Workers       int           `yaml:"workers" mapstructure:"workers"`               // shared pool size for concurrent fetches
	SnapshotReads bool          `yaml:"snapshot_reads" mapstructure:"snapshot_reads"` // aggregate + ranges in one read tx
	Uncapped      bool          `yaml:"uncapped" mapstructure:"uncapped"`             // drop the per-range LIMIT
	QueryTimeout  time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	MaxOpenConns  int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	Migrate       bool          `yaml:"migrate" mapstructure:"migrate"` // apply embedded migrations on startup
}

// SecondaryConfig holds the optional Postgres preview source
type SecondaryConfig struct {
	URL   string `yaml:"url" mapstructure:"url"` // empty disables the secondary table
	Table string `yaml:"table" mapstructure:"table"`
	Limit int    `yaml:"limit" mapstructure:"limit"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *MainConfig {
	maincfg := &MainConfig{
		AppVersion: AppVersion,
		Web: WebConfig{
			ListenPort:         DefaultListenPort,
			RateLimitPerMinute: DefaultRateLimitPerMinute,
			RateLimitBurst:     DefaultRateLimitBurst,
			TrustedProxies:     []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		},
		Database: DatabaseConfig{
			Driver:       DefaultDriver,
			DSN:          "data/rangeview.sq3",
			Table:        DefaultTable,
			Partitions:   DefaultPartitions,
			Workers:      DefaultWorkers,
			QueryTimeout: DefaultQueryTimeout,
			MaxOpenConns: DefaultMaxOpenConns,
			Migrate:      true,
		},
		Secondary: SecondaryConfig{
			Table: DefaultTable,
			Limit: DefaultSecondaryLimit,
		},
	}
	return maincfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the file keep their current value.
func LoadFile(cfg *MainConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg.mux.Lock()
	defer cfg.mux.Unlock()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	log.Printf("[CONFIG]: loaded %s", path)
	return nil
}

// Validate checks the configuration for values the server cannot run with
func (c *MainConfig) Validate() error {
	if c.Web.ListenPort < 1024 || c.Web.ListenPort > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1024 and 65535)", c.Web.ListenPort)
	}
	if c.Web.SSL && (c.Web.CertFile == "" || c.Web.KeyFile == "") {
		return fmt.Errorf("SSL enabled but cert_file or key_file not specified")
	}
	if c.Web.RateLimitPerMinute < 0 || c.Web.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (sqlite3 or postgres)", c.Database.Driver)
	}
	if !ValidIdentifier(c.Database.Table) {
		return fmt.Errorf("invalid table name %q", c.Database.Table)
	}
	if c.Database.Partitions < 1 || c.Database.Partitions > MaxPartitions {
		return fmt.Errorf("invalid partition count %d (must be between 1 and %d)", c.Database.Partitions, MaxPartitions)
	}
	if c.Database.Concurrent && c.Database.Workers < 1 {
		return fmt.Errorf("concurrent fetches need at least one worker")
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("query_timeout must not be negative")
	}
	if c.Secondary.URL != "" {
		if !ValidIdentifier(c.Secondary.Table) {
			return fmt.Errorf("invalid secondary table name %q", c.Secondary.Table)
		}
		if c.Secondary.Limit < 1 {
			return fmt.Errorf("secondary limit must be positive")
		}
	}
	return nil
}

// ValidIdentifier reports whether name can be used as an unquoted table name
func ValidIdentifier(name string) bool {
	return identRE.MatchString(name)
}
