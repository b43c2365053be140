package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/noxfi/nox-indexer/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Ledger.RPCURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ledger.rpc_url must be an http(s) URL, got %q", c.Ledger.RPCURL)
	}
	if _, err := model.ParseOwner(c.Ledger.ModuleAddress); err != nil {
		return fmt.Errorf("ledger.module_address: %w", err)
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("ledger.max_retries must be >= 0")
	}

	if c.Poller.ChunkSize < 1 {
		return errors.New("poller.chunk_size must be >= 1")
	}

	if c.Database.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}

	if _, _, err := net.SplitHostPort(c.Server.BindAddress); err != nil {
		return fmt.Errorf("server.bind_address: %w", err)
	}

	if c.Auth.MaxSkew < 0 {
		return errors.New("auth.max_skew must be >= 0")
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ModuleOwner returns the module address as a 32-byte identifier.
func (c *Config) ModuleOwner() model.OwnerID {
	o, _ := model.ParseOwner(c.Ledger.ModuleAddress)
	return o
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
