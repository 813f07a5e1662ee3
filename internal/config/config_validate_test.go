// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Provider.URL = "https://gps.example.com"
	cfg.Provider.Username = "bridge"
	cfg.Provider.Password = "secret"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with provider", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Provider.URL = "ftp://gps.example.com" }, "PROVIDER_URL"},
		{"missing password", func(c *Config) { c.Provider.Password = "" }, "PROVIDER_PASSWORD"},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "SYNC_BATCH_SIZE"},
		{"negative fetch window", func(c *Config) { c.Sync.MaxFetchWindow = -time.Minute }, "SYNC_MAX_FETCH_WINDOW"},
		{"fast interval", func(c *Config) { c.Sync.EventsInterval = time.Millisecond }, "SYNC_EVENTS_INTERVAL"},
		{"multiplier below one", func(c *Config) { c.Commands.Multiplier = 0.5 }, "COMMAND_MULTIPLIER"},
		{"ttl shorter than ack", func(c *Config) { c.Commands.TTL = time.Second }, "COMMAND_TTL"},
		{"no command workers", func(c *Config) { c.Pools.CommandWorkers = 0 }, "POOL_COMMAND_WORKERS"},
		{"nats bad url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = "http://nats:4222"
		}, "NATS_URL"},
		{"nats embedded ok", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.EmbeddedServer = true
		}, ""},
		{"unknown directory", func(c *Config) { c.Directory.Backend = "ldap" }, "DIRECTORY_BACKEND"},
		{"duplicate static device", func(c *Config) {
			c.Directory.Devices = []StaticDevice{
				{ProviderID: 1, DeviceID: "a", CompanyID: "c"},
				{ProviderID: 1, DeviceID: "b", CompanyID: "c"},
			}
		}, "twice"},
		{"ingest tiny lines", func(c *Config) {
			c.Ingest.Enabled = true
			c.Ingest.MaxLineBytes = 8
		}, "INGEST_MAX_LINE_BYTES"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "HTTP_PORT"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()
	s := ServerConfig{Host: "127.0.0.1", Port: 8082}
	if got := s.Addr(); got != "127.0.0.1:8082" {
		t.Errorf("Addr() = %q", got)
	}
}
