// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment needed for a valid configuration.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PROVIDER_URL", "https://gps.example.com/api")
	t.Setenv("PROVIDER_USERNAME", "bridge")
	t.Setenv("PROVIDER_PASSWORD", "secret")
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Commands.AckTimeout != 30*time.Second {
		t.Errorf("Commands.AckTimeout = %v, want 30s", cfg.Commands.AckTimeout)
	}
	if cfg.Commands.MaxRetries != 3 {
		t.Errorf("Commands.MaxRetries = %d, want 3", cfg.Commands.MaxRetries)
	}
	if cfg.Commands.BaseDelay != time.Second {
		t.Errorf("Commands.BaseDelay = %v, want 1s", cfg.Commands.BaseDelay)
	}
	if cfg.Commands.Multiplier != 2 {
		t.Errorf("Commands.Multiplier = %v, want 2", cfg.Commands.Multiplier)
	}
	if cfg.Sync.StalenessThreshold != 5*time.Minute {
		t.Errorf("Sync.StalenessThreshold = %v, want 5m", cfg.Sync.StalenessThreshold)
	}
	if cfg.Sync.MaxFetchWindow != 6*time.Hour {
		t.Errorf("Sync.MaxFetchWindow = %v, want 6h", cfg.Sync.MaxFetchWindow)
	}
	if cfg.Provider.RetryAttempts != 3 {
		t.Errorf("Provider.RetryAttempts = %d, want 3", cfg.Provider.RetryAttempts)
	}
	if cfg.Directory.Backend != "static" {
		t.Errorf("Directory.Backend = %q, want static", cfg.Directory.Backend)
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYNC_BATCH_SIZE", "250")
	t.Setenv("COMMAND_ACK_TIMEOUT", "45s")
	t.Setenv("PROVIDER_CONNECT_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SYNC_MAX_FETCH_WINDOW", "15m")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Provider.URL != "https://gps.example.com/api" {
		t.Errorf("Provider.URL = %q", cfg.Provider.URL)
	}
	if cfg.Sync.BatchSize != 250 {
		t.Errorf("Sync.BatchSize = %d, want 250", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MaxFetchWindow != 15*time.Minute {
		t.Errorf("Sync.MaxFetchWindow = %v, want 15m", cfg.Sync.MaxFetchWindow)
	}
	if cfg.Commands.AckTimeout != 45*time.Second {
		t.Errorf("Commands.AckTimeout = %v, want 45s", cfg.Commands.AckTimeout)
	}
	if cfg.Provider.ConnectTimeout != 3*time.Second {
		t.Errorf("Provider.ConnectTimeout = %v, want 3s", cfg.Provider.ConnectTimeout)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithKoanf_ConfigFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sync:
  batch_size: 50
  positions_interval: 10s
directory:
  backend: static
  devices:
    - provider_id: 7
      device_id: 0b8f7e3c-1d2a-4c55-9a0e-2f6f1b8b9c01
      company_id: acme
      active: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	// env wins over file
	t.Setenv("SYNC_BATCH_SIZE", "75")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Sync.BatchSize != 75 {
		t.Errorf("Sync.BatchSize = %d, want 75 (env overrides file)", cfg.Sync.BatchSize)
	}
	if cfg.Sync.PositionsInterval != 10*time.Second {
		t.Errorf("Sync.PositionsInterval = %v, want 10s", cfg.Sync.PositionsInterval)
	}
	if len(cfg.Directory.Devices) != 1 || cfg.Directory.Devices[0].ProviderID != 7 {
		t.Fatalf("Directory.Devices = %+v", cfg.Directory.Devices)
	}
	if !cfg.Directory.Devices[0].Active {
		t.Error("expected static device to be active")
	}
}

func TestLoadWithKoanf_MissingProvider(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PROVIDER_URL", "")

	_, err := LoadWithKoanf()
	if err == nil {
		t.Fatal("expected validation error without PROVIDER_URL")
	}
	if !strings.Contains(err.Error(), "PROVIDER_URL") {
		t.Errorf("error should name PROVIDER_URL, got %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		want string
	}{
		{"PROVIDER_URL", "provider.url"},
		{"COMMAND_MAX_RETRIES", "commands.max_retries"},
		{"NATS_EMBEDDED", "nats.embedded_server"},
		{"REDIS_ADDR", "directory.redis_addr"},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}
