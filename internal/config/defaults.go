package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRPCURL          = "https://api.testnet.aptoslabs.com/v1"
	DefaultModuleAddress   = "0x2"
	DefaultLedgerTimeout   = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultChunkSize       = 100
	DefaultLookback        = 100
	DefaultPollInterval    = 5 * time.Second
	DefaultChunkDelay      = 500 * time.Millisecond
	DefaultRestartDelay    = 10 * time.Second
	DefaultMaxConns        = 10
	DefaultCacheTTL        = 30 * time.Second
	DefaultBindAddress     = "0.0.0.0:3000"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 35 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultMaxSkew         = 5 * time.Minute
	DefaultLogLevel        = "info"
)

func (c *Config) applyDefaults() {
	// Ledger
	if c.Ledger.RPCURL == "" {
		c.Ledger.RPCURL = DefaultRPCURL
	}
	if c.Ledger.ModuleAddress == "" {
		c.Ledger.ModuleAddress = DefaultModuleAddress
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = DefaultLedgerTimeout
	}
	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = DefaultMaxRetries
	}

	// Poller
	if c.Poller.ChunkSize == 0 {
		c.Poller.ChunkSize = DefaultChunkSize
	}
	if c.Poller.Lookback == 0 {
		c.Poller.Lookback = DefaultLookback
	}
	if c.Poller.PollInterval == 0 {
		c.Poller.PollInterval = DefaultPollInterval
	}
	if c.Poller.ChunkDelay == 0 {
		c.Poller.ChunkDelay = DefaultChunkDelay
	}
	if c.Poller.RestartDelay == 0 {
		c.Poller.RestartDelay = DefaultRestartDelay
	}

	// Storage
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = DefaultCacheTTL
	}

	// Server
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = DefaultBindAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Auth.MaxSkew == 0 {
		c.Auth.MaxSkew = DefaultMaxSkew
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
