package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/circuit"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/retry"
	"github.com/statdash/statdash/pkg/utils"
)

// Source kinds.
const (
	SourceLocal  = "local"
	SourceS3     = "s3"
	SourceSQLite = "sqlite"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Cache   CacheConfig   `yaml:"cache"`
	Source  SourceConfig  `yaml:"source"`
	Catalog CatalogConfig `yaml:"catalog"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// CacheConfig represents the two-level cache settings
type CacheConfig struct {
	Directory      string  `yaml:"cache_directory"`
	MemoryCapacity int     `yaml:"memory_capacity"`
	DiskTTLHours   float64 `yaml:"disk_ttl_hours"`
	PreloadWorkers int     `yaml:"preload_workers"`
	PreloadQueue   int     `yaml:"preload_queue"`
	MemoCapacity   int     `yaml:"memo_capacity"`
}

// SourceConfig selects and configures the store tables are loaded from
type SourceConfig struct {
	Kind   string             `yaml:"kind"`
	Local  LocalSourceConfig  `yaml:"local"`
	S3     S3SourceConfig     `yaml:"s3"`
	SQLite SQLiteSourceConfig `yaml:"sqlite"`
	Retry  retry.Config       `yaml:"retry"`

	// Breaker suspends source calls after repeated failures.
	Breaker circuit.Config `yaml:"circuit_breaker"`

	// Watch clears cached tables when their local source file changes.
	Watch bool `yaml:"watch"`
}

// LocalSourceConfig reads <directory>/<token>.csv files
type LocalSourceConfig struct {
	Directory string `yaml:"directory"`
}

// S3SourceConfig reads <prefix><key>.csv objects
type S3SourceConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SQLiteSourceConfig reads rows keyed by indicator_id from one table
type SQLiteSourceConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// CatalogConfig points at the goal and indicator catalog
type CatalogConfig struct {
	File string `yaml:"file"`
}

// ServerConfig represents HTTP server settings
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig represents Prometheus exposition settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			Directory:      "cache",
			MemoryCapacity: cache.DefaultMemoryCapacity,
			DiskTTLHours:   cache.DefaultDiskTTL.Hours(),
			PreloadWorkers: 2,
			PreloadQueue:   64,
			MemoCapacity:   cache.DefaultMemoCapacity,
		},
		Source: SourceConfig{
			Kind: SourceLocal,
			Local: LocalSourceConfig{
				Directory: "data",
			},
			SQLite: SQLiteSourceConfig{
				Table: "indicators",
			},
			Retry:   retry.DefaultConfig(),
			Breaker: circuit.DefaultConfig(),
		},
		Catalog: CatalogConfig{
			File: "catalog.yaml",
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "statdash",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file and the
// environment, in that order, and validates the result.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 -- operator supplied path
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").WithKey(filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").WithKey(filename)
	}

	return nil
}

// LoadFromEnv overrides settings from STATDASH_* environment variables
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.setString("STATDASH_LOG_LEVEL", &c.Global.LogLevel)
	env.setString("STATDASH_LOG_FORMAT", &c.Global.LogFormat)
	env.setString("STATDASH_LOG_FILE", &c.Global.LogFile)

	// Cache settings
	env.setString("STATDASH_CACHE_DIR", &c.Cache.Directory)
	env.setInt("STATDASH_MEMORY_CAPACITY", &c.Cache.MemoryCapacity)
	env.setFloat("STATDASH_DISK_TTL_HOURS", &c.Cache.DiskTTLHours)
	env.setInt("STATDASH_PRELOAD_WORKERS", &c.Cache.PreloadWorkers)

	// Source settings
	env.setString("STATDASH_SOURCE_KIND", &c.Source.Kind)
	env.setString("STATDASH_SOURCE_DIR", &c.Source.Local.Directory)
	env.setString("STATDASH_S3_BUCKET", &c.Source.S3.Bucket)
	env.setString("STATDASH_S3_PREFIX", &c.Source.S3.Prefix)
	env.setString("STATDASH_S3_REGION", &c.Source.S3.Region)
	env.setString("STATDASH_S3_ENDPOINT", &c.Source.S3.Endpoint)
	env.setString("STATDASH_SQLITE_PATH", &c.Source.SQLite.Path)
	env.setBool("STATDASH_SOURCE_WATCH", &c.Source.Watch)
	env.setBool("STATDASH_CIRCUIT_BREAKER", &c.Source.Breaker.Enabled)

	env.setString("STATDASH_CATALOG_FILE", &c.Catalog.File)
	env.setString("STATDASH_SERVER_ADDRESS", &c.Server.Address)
	env.setBool("STATDASH_METRICS_ENABLED", &c.Metrics.Enabled)

	if env.err != nil {
		return errors.Wrap(env.err, errors.ErrCodeConfigValidation, "invalid environment override").
			WithComponent("config")
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Cache.Directory == "" {
		return invalid("cache_directory cannot be empty")
	}
	if c.Cache.MemoryCapacity <= 0 {
		return invalid("memory_capacity must be greater than 0")
	}
	if c.Cache.DiskTTLHours < 0 {
		return invalid("disk_ttl_hours cannot be negative")
	}
	if c.Cache.PreloadWorkers <= 0 {
		return invalid("preload_workers must be greater than 0")
	}
	if c.Cache.PreloadQueue <= 0 {
		return invalid("preload_queue must be greater than 0")
	}

	switch c.Source.Kind {
	case SourceLocal:
		if c.Source.Local.Directory == "" {
			return invalid("source.local.directory is required for the local source")
		}
	case SourceS3:
		if c.Source.S3.Bucket == "" {
			return invalid("source.s3.bucket is required for the s3 source")
		}
		if (c.Source.S3.AccessKeyID == "") != (c.Source.S3.SecretAccessKey == "") {
			return invalid("source.s3 access_key_id and secret_access_key must be set together")
		}
	case SourceSQLite:
		if c.Source.SQLite.Path == "" {
			return invalid("source.sqlite.path is required for the sqlite source")
		}
		if !isIdentifier(c.Source.SQLite.Table) {
			return invalid("invalid source.sqlite.table: %q", c.Source.SQLite.Table)
		}
	default:
		return invalid("invalid source.kind: %s (must be one of: %s, %s, %s)",
			c.Source.Kind, SourceLocal, SourceS3, SourceSQLite)
	}
	if c.Source.Breaker.Timeout < 0 || c.Source.Breaker.Interval < 0 {
		return invalid("source.circuit_breaker durations cannot be negative")
	}
	if c.Source.Watch && c.Source.Kind != SourceLocal {
		return invalid("source.watch is only supported for the local source")
	}

	if c.Server.Address == "" {
		return invalid("server.address cannot be empty")
	}

	return nil
}

// DiskTTL converts the configured hours into a duration.
func (c CacheConfig) DiskTTL() time.Duration {
	return time.Duration(c.DiskTTLHours * float64(time.Hour))
}

// ManagerConfig maps the section onto the cache manager settings.
func (c CacheConfig) ManagerConfig() cache.Config {
	return cache.Config{
		Directory:      c.Directory,
		MemoryCapacity: c.MemoryCapacity,
		DiskTTL:        c.DiskTTL(),
		PreloadWorkers: c.PreloadWorkers,
		PreloadQueue:   c.PreloadQueue,
	}
}

// LogConfig maps the global section onto the logger settings.
func (g GlobalConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{Level: g.LogLevel, Format: g.LogFormat, File: g.LogFile}
}

func invalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...)).
		WithComponent("config")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// envReader applies overrides and keeps the first parse failure.
type envReader struct {
	err error
}

func (e *envReader) setString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func (e *envReader) setInt(name string, dst *int) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat(name string, dst *float64) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = f
}

func (e *envReader) setBool(name string, dst *bool) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = b
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", name, err)
	}
}
