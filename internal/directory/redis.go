// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package directory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/models"
)

// Hash fields of a directory entry.
const (
	fieldDeviceID  = "device_id"
	fieldCompanyID = "company_id"
	fieldActive    = "active"
)

type cacheEntry struct {
	ref       models.DeviceRef
	expiresAt time.Time
}

// Redis resolves devices from one hash per device at <prefix><providerID>.
// Hits are cached locally for the configured TTL; misses are never cached so a newly
// registered device is picked up on the next cycle.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  clock.Clock

	mu    sync.RWMutex
	cache map[int64]cacheEntry
}

var _ Directory = (*Redis)(nil)

// NewRedis connects lazily to the configured Redis server.
func NewRedis(cfg *config.DirectoryConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisWithClient(client, cfg.KeyPrefix, cfg.CacheTTL, clock.Real())
}

// NewRedisWithClient wraps an existing client. A ttl of zero disables the local cache.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration, clk clock.Clock) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		clock:  clk,
		cache:  make(map[int64]cacheEntry),
	}
}

func (r *Redis) key(providerID int64) string {
	return r.prefix + strconv.FormatInt(providerID, 10)
}

// Resolve returns the cached entry or reads the device hash.
func (r *Redis) Resolve(ctx context.Context, providerID int64) (models.DeviceRef, error) {
	if ref, ok := r.cached(providerID); ok {
		return ref, nil
	}

	fields, err := r.client.HGetAll(ctx, r.key(providerID)).Result()
	if err != nil {
		return models.DeviceRef{}, fmt.Errorf("directory lookup %d: %w", providerID, err)
	}
	if len(fields) == 0 {
		return models.DeviceRef{}, fmt.Errorf("provider device %d: %w", providerID, ErrNotFound)
	}

	ref, err := parseEntry(providerID, fields)
	if err != nil {
		return models.DeviceRef{}, err
	}
	r.store(ref)
	return ref, nil
}

func parseEntry(providerID int64, fields map[string]string) (models.DeviceRef, error) {
	ref := models.DeviceRef{
		DeviceID:         fields[fieldDeviceID],
		CompanyID:        fields[fieldCompanyID],
		ProviderDeviceID: providerID,
		Active:           true,
	}
	if ref.DeviceID == "" || ref.CompanyID == "" {
		return models.DeviceRef{}, fmt.Errorf("provider device %d: %w: device_id and company_id are required", providerID, ErrInvalidEntry)
	}
	if v, ok := fields[fieldActive]; ok {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return models.DeviceRef{}, fmt.Errorf("provider device %d: %w: active=%q", providerID, ErrInvalidEntry, v)
		}
		ref.Active = active
	}
	return ref, nil
}

func (r *Redis) cached(providerID int64) (models.DeviceRef, bool) {
	if r.ttl <= 0 {
		return models.DeviceRef{}, false
	}
	r.mu.RLock()
	entry, ok := r.cache[providerID]
	r.mu.RUnlock()
	if !ok || !r.clock.Now().Before(entry.expiresAt) {
		return models.DeviceRef{}, false
	}
	return entry.ref, true
}

func (r *Redis) store(ref models.DeviceRef) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[ref.ProviderDeviceID] = cacheEntry{ref: ref, expiresAt: r.clock.Now().Add(r.ttl)}
	r.mu.Unlock()
}

// Register writes a directory entry and drops any cached copy.
func (r *Redis) Register(ctx context.Context, ref models.DeviceRef) error {
	err := r.client.HSet(ctx, r.key(ref.ProviderDeviceID), map[string]any{
		fieldDeviceID:  ref.DeviceID,
		fieldCompanyID: ref.CompanyID,
		fieldActive:    strconv.FormatBool(ref.Active),
	}).Err()
	if err != nil {
		return fmt.Errorf("directory register %d: %w", ref.ProviderDeviceID, err)
	}
	r.Invalidate(ref.ProviderDeviceID)
	return nil
}

// Invalidate drops the cached entry for providerID.
func (r *Redis) Invalidate(providerID int64) {
	r.mu.Lock()
	delete(r.cache, providerID)
	r.mu.Unlock()
}

// Ping checks Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close directory redis client")
		return err
	}
	return nil
}
