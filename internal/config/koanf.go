// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fleetbridge/config.yaml",
	"/etc/fleetbridge/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       30 * time.Second,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
			RequestsPerSecond: 10,
			CircuitBreaker:    true,
			Source:            "traccar",
		},
		Sync: SyncConfig{
			Enabled:            true,
			PositionsInterval:  30 * time.Second,
			EventsInterval:     30 * time.Second,
			DevicesInterval:    5 * time.Minute,
			BatchSize:          500,
			CheckpointEvery:    0,
			StalenessThreshold: 5 * time.Minute,
			InitialLookback:    time.Hour,
			MaxFetchWindow:     6 * time.Hour,
		},
		Commands: CommandConfig{
			AckTimeout: 30 * time.Second,
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			MaxDelay:   5 * time.Minute,
			TTL:        24 * time.Hour,
		},
		Pools: PoolConfig{
			SyncWorkers:    3, // one per stream
			SyncQueue:      6,
			CommandWorkers: 4,
			CommandQueue:   256,
			IngestWorkers:  16,
			IngestQueue:    32,
			ShutdownGrace:  15 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:         false,
			URL:             "nats://127.0.0.1:4222",
			EmbeddedServer:  false,
			StoreDir:        "/data/nats/jetstream",
			StreamName:      "FLEET",
			Subjects:        []string{"fleet.>"},
			MaxAge:          7 * 24 * time.Hour,
			DuplicateWindow: 2 * time.Hour,
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "/data/fleetbridge",
			SyncWrites:       true,
			GCInterval:       10 * time.Minute,
			CommandRetention: 7 * 24 * time.Hour,
		},
		Directory: DirectoryConfig{
			Backend:   "static",
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "fleet:device:",
			CacheTTL:  time.Minute,
		},
		Ingest: IngestConfig{
			Enabled:      false,
			Addr:         "0.0.0.0:5027",
			ReadTimeout:  2 * time.Minute,
			MaxLineBytes: 4096,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8082,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration with layered sources: defaults, then the optional
// YAML config file, then environment variables. The result is validated before returning.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PROVIDER_URL -> provider.url, COMMAND_ACK_TIMEOUT -> commands.ack_timeout
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" when none is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"nats.subjects",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"provider_url":                 "provider.url",
	"provider_username":            "provider.username",
	"provider_password":            "provider.password",
	"provider_connect_timeout":     "provider.connect_timeout",
	"provider_read_timeout":        "provider.read_timeout",
	"provider_retry_attempts":      "provider.retry_attempts",
	"provider_retry_delay":         "provider.retry_delay",
	"provider_requests_per_second": "provider.requests_per_second",
	"provider_circuit_breaker":     "provider.circuit_breaker",
	"provider_source":              "provider.source",

	"sync_enabled":             "sync.enabled",
	"sync_positions_interval":  "sync.positions_interval",
	"sync_events_interval":     "sync.events_interval",
	"sync_devices_interval":    "sync.devices_interval",
	"sync_batch_size":          "sync.batch_size",
	"sync_checkpoint_every":    "sync.checkpoint_every",
	"sync_staleness_threshold": "sync.staleness_threshold",
	"sync_initial_lookback":    "sync.initial_lookback",
	"sync_max_fetch_window":    "sync.max_fetch_window",

	"command_ack_timeout": "commands.ack_timeout",
	"command_max_retries": "commands.max_retries",
	"command_base_delay":  "commands.base_delay",
	"command_multiplier":  "commands.multiplier",
	"command_max_delay":   "commands.max_delay",
	"command_ttl":         "commands.ttl",

	"pool_sync_workers":    "pools.sync_workers",
	"pool_sync_queue":      "pools.sync_queue",
	"pool_command_workers": "pools.command_workers",
	"pool_command_queue":   "pools.command_queue",
	"pool_ingest_workers":  "pools.ingest_workers",
	"pool_ingest_queue":    "pools.ingest_queue",
	"shutdown_grace":       "pools.shutdown_grace",

	"nats_enabled":          "nats.enabled",
	"nats_url":              "nats.url",
	"nats_embedded":         "nats.embedded_server",
	"nats_store_dir":        "nats.store_dir",
	"nats_stream_name":      "nats.stream_name",
	"nats_subjects":         "nats.subjects",
	"nats_max_age":          "nats.max_age",
	"nats_duplicate_window": "nats.duplicate_window",
	"nats_max_reconnects":   "nats.max_reconnects",
	"nats_reconnect_wait":   "nats.reconnect_wait",

	"storage_path":              "storage.path",
	"storage_sync_writes":       "storage.sync_writes",
	"storage_in_memory":         "storage.in_memory",
	"storage_gc_interval":       "storage.gc_interval",
	"storage_command_retention": "storage.command_retention",

	"directory_backend":   "directory.backend",
	"redis_addr":          "directory.redis_addr",
	"redis_password":      "directory.redis_password",
	"redis_db":            "directory.redis_db",
	"directory_prefix":    "directory.key_prefix",
	"directory_cache_ttl": "directory.cache_ttl",

	"ingest_enabled":        "ingest.enabled",
	"ingest_addr":           "ingest.addr",
	"ingest_read_timeout":   "ingest.read_timeout",
	"ingest_max_line_bytes": "ingest.max_line_bytes",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",
	"cors_origins":        "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
