// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	maxBatchSize     = 10000
	minStaleness     = 10 * time.Second
	minSyncInterval  = time.Second
	maxCommandRetry  = 20
	maxPoolWorkers   = 1024
	minLineBytes     = 64
	maxProviderRetry = 10
)

// Validate checks all sections and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateProvider,
		c.validateSync,
		c.validateCommands,
		c.validatePools,
		c.validateNATS,
		c.validateStorage,
		c.validateDirectory,
		c.validateIngest,
		c.validateServer,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.URL == "" {
		return fmt.Errorf("PROVIDER_URL is required")
	}
	u, err := url.Parse(c.Provider.URL)
	if err != nil {
		return fmt.Errorf("PROVIDER_URL is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("PROVIDER_URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("PROVIDER_URL must include a host")
	}
	if c.Provider.Username == "" || c.Provider.Password == "" {
		return fmt.Errorf("PROVIDER_USERNAME and PROVIDER_PASSWORD are required")
	}
	if c.Provider.ConnectTimeout <= 0 {
		return fmt.Errorf("PROVIDER_CONNECT_TIMEOUT must be positive")
	}
	if c.Provider.ReadTimeout <= 0 {
		return fmt.Errorf("PROVIDER_READ_TIMEOUT must be positive")
	}
	if c.Provider.RetryAttempts < 1 || c.Provider.RetryAttempts > maxProviderRetry {
		return fmt.Errorf("PROVIDER_RETRY_ATTEMPTS must be between 1 and %d", maxProviderRetry)
	}
	if c.Provider.RetryDelay < 0 {
		return fmt.Errorf("PROVIDER_RETRY_DELAY must not be negative")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("PROVIDER_REQUESTS_PER_SECOND must not be negative")
	}
	if c.Provider.Source == "" {
		return fmt.Errorf("PROVIDER_SOURCE must not be empty")
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.BatchSize < 1 || s.BatchSize > maxBatchSize {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and %d", maxBatchSize)
	}
	if s.CheckpointEvery < 0 {
		return fmt.Errorf("SYNC_CHECKPOINT_EVERY must not be negative")
	}
	intervals := map[string]time.Duration{
		"SYNC_POSITIONS_INTERVAL": s.PositionsInterval,
		"SYNC_EVENTS_INTERVAL":    s.EventsInterval,
		"SYNC_DEVICES_INTERVAL":   s.DevicesInterval,
	}
	for name, d := range intervals {
		if d < minSyncInterval {
			return fmt.Errorf("%s must be at least %v", name, minSyncInterval)
		}
	}
	if s.StalenessThreshold < minStaleness {
		return fmt.Errorf("SYNC_STALENESS_THRESHOLD must be at least %v", minStaleness)
	}
	if s.InitialLookback < 0 {
		return fmt.Errorf("SYNC_INITIAL_LOOKBACK must not be negative")
	}
	if s.MaxFetchWindow < 0 {
		return fmt.Errorf("SYNC_MAX_FETCH_WINDOW must not be negative")
	}
	return nil
}

func (c *Config) validateCommands() error {
	cmd := c.Commands
	if cmd.AckTimeout <= 0 {
		return fmt.Errorf("COMMAND_ACK_TIMEOUT must be positive")
	}
	if cmd.MaxRetries < 0 || cmd.MaxRetries > maxCommandRetry {
		return fmt.Errorf("COMMAND_MAX_RETRIES must be between 0 and %d", maxCommandRetry)
	}
	if cmd.BaseDelay <= 0 {
		return fmt.Errorf("COMMAND_BASE_DELAY must be positive")
	}
	if cmd.Multiplier < 1 {
		return fmt.Errorf("COMMAND_MULTIPLIER must be at least 1")
	}
	if cmd.MaxDelay != 0 && cmd.MaxDelay < cmd.BaseDelay {
		return fmt.Errorf("COMMAND_MAX_DELAY must be 0 (unbounded) or >= COMMAND_BASE_DELAY")
	}
	if cmd.TTL < cmd.AckTimeout {
		return fmt.Errorf("COMMAND_TTL must be at least COMMAND_ACK_TIMEOUT")
	}
	return nil
}

func (c *Config) validatePools() error {
	p := c.Pools
	checks := []struct {
		name    string
		workers int
		queue   int
	}{
		{"POOL_SYNC", p.SyncWorkers, p.SyncQueue},
		{"POOL_COMMAND", p.CommandWorkers, p.CommandQueue},
		{"POOL_INGEST", p.IngestWorkers, p.IngestQueue},
	}
	for _, chk := range checks {
		if chk.workers < 1 || chk.workers > maxPoolWorkers {
			return fmt.Errorf("%s_WORKERS must be between 1 and %d", chk.name, maxPoolWorkers)
		}
		if chk.queue < 0 {
			return fmt.Errorf("%s_QUEUE must not be negative", chk.name)
		}
	}
	if p.ShutdownGrace <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be positive")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if !c.NATS.EmbeddedServer {
		u, err := url.Parse(c.NATS.URL)
		if err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
		if u.Scheme != "nats" && u.Scheme != "tls" {
			return fmt.Errorf("NATS_URL must use nats:// or tls:// scheme, got %q", u.Scheme)
		}
	} else if c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED is true")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("NATS_STREAM_NAME must not be empty")
	}
	if len(c.NATS.Subjects) == 0 {
		return fmt.Errorf("NATS_SUBJECTS must list at least one subject")
	}
	if c.NATS.DuplicateWindow <= 0 {
		return fmt.Errorf("NATS_DUPLICATE_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required unless STORAGE_IN_MEMORY is true")
	}
	if c.Storage.GCInterval < time.Minute {
		return fmt.Errorf("STORAGE_GC_INTERVAL must be at least 1m, got %s", c.Storage.GCInterval)
	}
	if c.Storage.CommandRetention < time.Hour {
		return fmt.Errorf("STORAGE_COMMAND_RETENTION must be at least 1h, got %s", c.Storage.CommandRetention)
	}
	return nil
}

func (c *Config) validateDirectory() error {
	switch c.Directory.Backend {
	case "static":
		seen := make(map[int64]bool, len(c.Directory.Devices))
		for _, d := range c.Directory.Devices {
			if d.DeviceID == "" || d.CompanyID == "" {
				return fmt.Errorf("directory.devices entry for provider id %d needs device_id and company_id", d.ProviderID)
			}
			if seen[d.ProviderID] {
				return fmt.Errorf("directory.devices lists provider id %d twice", d.ProviderID)
			}
			seen[d.ProviderID] = true
		}
	case "redis":
		if c.Directory.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when DIRECTORY_BACKEND is redis")
		}
		if c.Directory.CacheTTL < 0 {
			return fmt.Errorf("DIRECTORY_CACHE_TTL must not be negative")
		}
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be 'static' or 'redis', got %q", c.Directory.Backend)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if !c.Ingest.Enabled {
		return nil
	}
	if c.Ingest.Addr == "" {
		return fmt.Errorf("INGEST_ADDR is required when INGEST_ENABLED is true")
	}
	if c.Ingest.MaxLineBytes < minLineBytes {
		return fmt.Errorf("INGEST_MAX_LINE_BYTES must be at least %d", minLineBytes)
	}
	if c.Ingest.ReadTimeout <= 0 {
		return fmt.Errorf("INGEST_READ_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if !c.Server.RateLimitDisabled {
		if c.Server.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Server.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console'")
	}
	return nil
}
