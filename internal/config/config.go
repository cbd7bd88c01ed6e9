// Package config loads the treasury configuration from a YAML file with
// environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/selco13/treasury/internal/app/storage/remote"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Loans   LoansConfig   `yaml:"loans"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// JWTSecret signs admin tokens. Overridden by TREASURY_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
	// RequestsPerMinute caps each caller on mutating endpoints.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "remote".
	Backend string `yaml:"backend"`
	// BaseURL of the remote tabular store REST endpoint. Overridden by
	// TREASURY_STORE_URL.
	BaseURL string `yaml:"base_url"`
	// APIKey is overridden by TREASURY_STORE_KEY and never committed to the
	// config file.
	APIKey            string        `yaml:"api_key"`
	TimeoutSeconds    int           `yaml:"timeout_seconds"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Tables            remote.Tables `yaml:"tables"`
}

// CacheConfig configures the in-memory balance cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// LoansConfig configures the loan lifecycle service.
type LoansConfig struct {
	// SweepSchedule is a cron expression for the overdue sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerMinute: 60,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Backend: "memory",
			Tables:  remote.DefaultTables(),
		},
	}
}

// Load reads the config file at path, falling back to defaults when the path
// is empty or missing, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Store.Backend == "remote" && cfg.Store.BaseURL == "" {
		return Config{}, fmt.Errorf("store backend %q requires a base URL", cfg.Store.Backend)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TREASURY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TREASURY_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("TREASURY_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("TREASURY_STORE_URL"); v != "" {
		cfg.Store.BaseURL = v
		if cfg.Store.Backend == "" || cfg.Store.Backend == "memory" {
			cfg.Store.Backend = "remote"
		}
	}
	if v := os.Getenv("TREASURY_STORE_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("TREASURY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TREASURY_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.TTLSeconds = n
		}
	}
	if v := os.Getenv("LOAN_SWEEP_SCHEDULE"); v != "" {
		cfg.Loans.SweepSchedule = v
	}
}

// CacheTTL converts the configured TTL to a duration; zero keeps the default.
func (c CacheConfig) CacheTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// StoreTimeout converts the configured timeout to a duration; zero keeps the
// client default.
func (c StoreConfig) StoreTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
