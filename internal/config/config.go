// Package config loads indexer configuration from an optional YAML file with
// ${VAR} expansion, then applies environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Poller   PollerConfig   `yaml:"poller"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// LedgerConfig points at the upstream node.
type LedgerConfig struct {
	RPCURL        string        `yaml:"rpc_url"`
	ModuleAddress string        `yaml:"module_address"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// PollerConfig tunes ingestion.
type PollerConfig struct {
	ChunkSize    uint64        `yaml:"chunk_size"`
	Lookback     uint64        `yaml:"lookback"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkDelay   time.Duration `yaml:"chunk_delay"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// DatabaseConfig selects PostgreSQL. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig enables the read-through cache and shared nonce guard.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ServerConfig struct {
	BindAddress     string        `yaml:"bind_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	MaxSkew time.Duration `yaml:"max_skew"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file and expands environment variables. An empty
// path yields a zero Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads config, applies environment overrides, then fills
// in defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies overrides and defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv lets the deployment environment override file values.
func (c *Config) applyEnv() {
	setFromEnv(&c.Ledger.RPCURL, "APTOS_RPC_URL")
	setFromEnv(&c.Ledger.ModuleAddress, "NOX_MODULE_ADDRESS")
	setFromEnv(&c.Database.URL, "DATABASE_URL")
	setFromEnv(&c.Redis.URL, "REDIS_URL")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("SERVER_BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	} else if port := os.Getenv("PORT"); port != "" {
		c.Server.BindAddress = "0.0.0.0:" + port
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
