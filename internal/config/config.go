// Package config loads service settings from file, environment and flags
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/internal/robustness"
	"github.com/mExOms/quantree/pkg/storage"
	"github.com/mExOms/quantree/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. QUANTREE_SERVER_ADDR
const EnvPrefix = "QUANTREE"

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Data       DataConfig        `mapstructure:"data"`
	Redis      RedisConfig       `mapstructure:"redis"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Optimizer  OptimizerConfig   `mapstructure:"optimizer"`
	Robustness robustness.Config `mapstructure:"robustness"`
	Jobs       JobsConfig        `mapstructure:"jobs"`
	Log        monitor.LogConfig `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// RateLimit caps job submissions per client and minute; 0 disables it
	RateLimit int `mapstructure:"rate_limit"`
}

type DataConfig struct {
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	ClientID string `mapstructure:"client_id"`
	Queue    string `mapstructure:"queue"`
}

type OptimizerConfig struct {
	Workers     int     `mapstructure:"workers"`
	MaxBranches int     `mapstructure:"max_branches"`
	CostBps     float64 `mapstructure:"cost_bps"`
	FillMode    string  `mapstructure:"fill_mode"`
	TopK        int     `mapstructure:"top_k"`
}

type JobsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	// StoreDir keeps finished reports on disk; empty disables it
	StoreDir string          `mapstructure:"store_dir"`
	Store    storage.Options `mapstructure:"store"`
}

// SetDefaults registers a default for every key, which also makes every
// key visible to environment overrides
func SetDefaults(v *viper.Viper) {
	rb := robustness.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.cache_ttl", "1h")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.client_id", "quantree")
	v.SetDefault("nats.queue", "quantree-workers")
	v.SetDefault("optimizer.workers", runtime.NumCPU())
	v.SetDefault("optimizer.max_branches", 10000)
	v.SetDefault("optimizer.cost_bps", 0.0)
	v.SetDefault("optimizer.fill_mode", string(types.FillCloseToClose))
	v.SetDefault("optimizer.top_k", 10)
	v.SetDefault("robustness.paths", rb.Paths)
	v.SetDefault("robustness.path_years", rb.PathYears)
	v.SetDefault("robustness.block_days", rb.BlockDays)
	v.SetDefault("robustness.folds", rb.Folds)
	v.SetDefault("robustness.drop_fraction", rb.DropFraction)
	v.SetDefault("robustness.bins", rb.Bins)
	v.SetDefault("robustness.seed", 0)
	v.SetDefault("jobs.retention", "24h")
	v.SetDefault("jobs.prune_schedule", "@every 10m")
	v.SetDefault("jobs.store_dir", "")
	v.SetDefault("jobs.store.retention", "720h")
	v.SetDefault("jobs.store.compress_after", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// New returns a viper instance with defaults and environment overrides
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (YAML, JSON or TOML by extension) when given and decodes
// the merged settings
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check
func (c *Config) Validate() error {
	var errs []error
	if _, err := types.ParseFillMode(c.Optimizer.FillMode); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.fill_mode: %w", err))
	}
	if c.Optimizer.CostBps < 0 {
		errs = append(errs, fmt.Errorf("optimizer.cost_bps must not be negative"))
	}
	if c.Optimizer.Workers < 0 {
		errs = append(errs, fmt.Errorf("optimizer.workers must not be negative"))
	}
	if c.Robustness.DropFraction < 0 || c.Robustness.DropFraction >= 1 {
		errs = append(errs, fmt.Errorf("robustness.drop_fraction must be in [0, 1)"))
	}
	if c.Jobs.Retention < 0 {
		errs = append(errs, fmt.Errorf("jobs.retention must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// FillMode returns the parsed default fill mode
func (c *Config) FillMode() types.FillMode {
	mode, err := types.ParseFillMode(c.Optimizer.FillMode)
	if err != nil {
		return types.FillCloseToClose
	}
	return mode
}
