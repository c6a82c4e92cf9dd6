// Package config loads the lance-ngram CLI configuration from YAML with
// LANCE_NGRAM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/colemanliyah/lance/lexical/ngram"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LANCE_NGRAM_"

// Config is the CLI configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Build   BuildConfig   `yaml:"build"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects the blob store.
type StoreConfig struct {
	// URL is a local directory, s3://bucket/prefix, minio://endpoint/bucket/prefix
	// or bolt:///path/to/file.db.
	URL       string `yaml:"url"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BuildConfig holds index build settings.
type BuildConfig struct {
	NGramLength     int    `yaml:"ngram_length"`
	MemoryBudget    int64  `yaml:"memory_budget"`
	BlockSize       int    `yaml:"block_size"`
	Compression     string `yaml:"compression"`
	Workers         int    `yaml:"workers"` // 0 = GOMAXPROCS
	SpillPrefix     string `yaml:"spill_prefix"`
	SpillReadBuffer int    `yaml:"spill_read_buffer"`
	BatchSize       int    `yaml:"batch_size"`
	IOLimit         int64  `yaml:"io_limit"` // bytes per second, 0 = unlimited
	BackgroundJobs  int64  `yaml:"background_jobs"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	CacheSize int64 `yaml:"cache_size"`
	Workers   int   `yaml:"workers"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables the exporter
	Namespace string `yaml:"namespace"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			URL:    ".",
			UseSSL: true,
		},
		Build: BuildConfig{
			NGramLength:     ngram.DefaultNGramLength,
			MemoryBudget:    ngram.DefaultMemoryBudget,
			BlockSize:       ngram.DefaultBlockSize,
			Compression:     ngram.DefaultCompression.String(),
			SpillPrefix:     ngram.DefaultSpillPrefix,
			SpillReadBuffer: ngram.DefaultSpillReadBuffer,
			BatchSize:       4096,
			BackgroundJobs:  1,
		},
		Search: SearchConfig{
			CacheSize: ngram.DefaultCacheSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "lance",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. A missing file is an error only when path was
// given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	int64v := func(key string, dst *int64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("STORE_URL", &cfg.Store.URL)
	str("STORE_REGION", &cfg.Store.Region)
	str("STORE_ACCESS_KEY", &cfg.Store.AccessKey)
	str("STORE_SECRET_KEY", &cfg.Store.SecretKey)
	boolean("STORE_USE_SSL", &cfg.Store.UseSSL)

	integer("LENGTH", &cfg.Build.NGramLength)
	int64v("MEMORY_BUDGET", &cfg.Build.MemoryBudget)
	integer("BLOCK_SIZE", &cfg.Build.BlockSize)
	str("COMPRESSION", &cfg.Build.Compression)
	integer("WORKERS", &cfg.Build.Workers)
	str("SPILL_PREFIX", &cfg.Build.SpillPrefix)
	integer("SPILL_READ_BUFFER", &cfg.Build.SpillReadBuffer)
	integer("BATCH_SIZE", &cfg.Build.BatchSize)
	int64v("IO_LIMIT", &cfg.Build.IOLimit)
	int64v("BACKGROUND_JOBS", &cfg.Build.BackgroundJobs)

	int64v("CACHE_SIZE", &cfg.Search.CacheSize)
	integer("SEARCH_WORKERS", &cfg.Search.Workers)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("METRICS_ADDR", &cfg.Metrics.Addr)
	str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	return errors.Join(errs...)
}

// Validate checks values that the library would only reject later.
func (c *Config) Validate() error {
	if _, err := ngram.ParseCompression(c.Build.Compression); err != nil {
		return fmt.Errorf("build.compression: %w", err)
	}
	if c.Build.BatchSize < 1 {
		return fmt.Errorf("build.batch_size: %d, must be >= 1", c.Build.BatchSize)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// BuildOptions translates the build and search sections into ngram options.
func (c *Config) BuildOptions() []ngram.Option {
	comp, _ := ngram.ParseCompression(c.Build.Compression)
	opts := []ngram.Option{
		ngram.WithNGramLength(c.Build.NGramLength),
		ngram.WithMemoryBudget(c.Build.MemoryBudget),
		ngram.WithBlockSize(c.Build.BlockSize),
		ngram.WithCompression(comp),
		ngram.WithSpillPrefix(c.Build.SpillPrefix),
		ngram.WithSpillReadBuffer(c.Build.SpillReadBuffer),
	}
	if c.Build.Workers > 0 {
		opts = append(opts, ngram.WithWorkers(c.Build.Workers))
	}
	return opts
}

// LoadOptions translates the search section into ngram options.
func (c *Config) LoadOptions() []ngram.Option {
	opts := []ngram.Option{ngram.WithCacheSize(c.Search.CacheSize)}
	if c.Search.Workers > 0 {
		opts = append(opts, ngram.WithWorkers(c.Search.Workers))
	}
	return opts
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}
