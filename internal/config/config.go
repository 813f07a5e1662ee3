// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Provider  ProviderConfig  `koanf:"provider"`
	Sync      SyncConfig      `koanf:"sync"`
	Commands  CommandConfig   `koanf:"commands"`
	Pools     PoolConfig      `koanf:"pools"`
	NATS      NATSConfig      `koanf:"nats"`
	Storage   StorageConfig   `koanf:"storage"`
	Directory DirectoryConfig `koanf:"directory"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ProviderConfig holds the external telemetry provider connection settings.
type ProviderConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// ConnectTimeout bounds TCP connect + TLS handshake.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	// ReadTimeout bounds the wait for response headers and body.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	CircuitBreaker    bool          `koanf:"circuit_breaker"`
	Source            string        `koanf:"source"` // source tag stamped on every envelope
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	Enabled            bool          `koanf:"enabled"`
	PositionsInterval  time.Duration `koanf:"positions_interval"`
	EventsInterval     time.Duration `koanf:"events_interval"`
	DevicesInterval    time.Duration `koanf:"devices_interval"`
	BatchSize          int           `koanf:"batch_size"`
	CheckpointEvery    int           `koanf:"checkpoint_every"` // 0 = persist once per batch
	StalenessThreshold time.Duration `koanf:"staleness_threshold"`
	InitialLookback    time.Duration `koanf:"initial_lookback"`
	// MaxFetchWindow caps how far past the checkpoint one cycle fetches. 0 = up to now.
	MaxFetchWindow time.Duration `koanf:"max_fetch_window"`
}

// CommandConfig holds device command dispatch settings.
type CommandConfig struct {
	AckTimeout time.Duration `koanf:"ack_timeout"`
	MaxRetries int           `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	Multiplier float64       `koanf:"multiplier"`
	MaxDelay   time.Duration `koanf:"max_delay"`
	TTL        time.Duration `koanf:"ttl"`
}

// PoolConfig holds worker pool sizes. Queue depth bounds pending work per pool.
type PoolConfig struct {
	SyncWorkers    int           `koanf:"sync_workers"`
	SyncQueue      int           `koanf:"sync_queue"`
	CommandWorkers int           `koanf:"command_workers"`
	CommandQueue   int           `koanf:"command_queue"`
	IngestWorkers  int           `koanf:"ingest_workers"`
	IngestQueue    int           `koanf:"ingest_queue"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace"`
}

// NATSConfig holds event bus settings.
type NATSConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	EmbeddedServer  bool          `koanf:"embedded_server"`
	StoreDir        string        `koanf:"store_dir"`
	StreamName      string        `koanf:"stream_name"`
	Subjects        []string      `koanf:"subjects"`
	MaxAge          time.Duration `koanf:"max_age"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
}

// StorageConfig holds Badger settings for checkpoints and commands.
type StorageConfig struct {
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`
	InMemory   bool   `koanf:"in_memory"`

	// GCInterval is how often value-log GC and terminal command purging run.
	GCInterval time.Duration `koanf:"gc_interval"`
	// CommandRetention is how long terminal commands are kept before purging.
	CommandRetention time.Duration `koanf:"command_retention"`
}

// StaticDevice is a directory entry supplied through the config file.
type StaticDevice struct {
	ProviderID int64  `koanf:"provider_id"`
	DeviceID   string `koanf:"device_id"`
	CompanyID  string `koanf:"company_id"`
	Active     bool   `koanf:"active"`
}

// DirectoryConfig selects the device directory backend.
type DirectoryConfig struct {
	Backend       string         `koanf:"backend"` // static or redis
	RedisAddr     string         `koanf:"redis_addr"`
	RedisPassword string         `koanf:"redis_password"`
	RedisDB       int            `koanf:"redis_db"`
	KeyPrefix     string         `koanf:"key_prefix"`
	CacheTTL      time.Duration  `koanf:"cache_ttl"`
	Devices       []StaticDevice `koanf:"devices"`
}

// IngestConfig holds the inbound heartbeat listener settings.
type IngestConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	MaxLineBytes int           `koanf:"max_line_bytes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	Timeout           time.Duration `koanf:"timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
