// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package storage

import (
	"context"
	"time"

	"github.com/tomtom215/fleetbridge/internal/logging"
)

// PurgeFunc deletes expired records and returns how many it removed.
type PurgeFunc func(ctx context.Context) (int, error)

// Compactor periodically runs purge tasks and value-log GC. It implements suture.Service.
type Compactor struct {
	db       *DB
	interval time.Duration
	purges   map[string]PurgeFunc
}

// NewCompactor creates a compactor running every interval.
func NewCompactor(db *DB, interval time.Duration) *Compactor {
	return &Compactor{db: db, interval: interval, purges: map[string]PurgeFunc{}}
}

// AddPurge registers a named purge task. Not safe to call after Serve starts.
func (c *Compactor) AddPurge(name string, fn PurgeFunc) {
	c.purges[name] = fn
}

// Serve runs the compaction loop until ctx is cancelled.
func (c *Compactor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", c.interval).Msg("Storage compactor started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Storage compactor stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Compact(ctx)
		}
	}
}

// Compact runs every purge task then GC once. Failures are logged, not returned.
func (c *Compactor) Compact(ctx context.Context) {
	for name, purge := range c.purges {
		n, err := purge(ctx)
		if err != nil {
			logging.Error().Err(err).Str("task", name).Msg("Storage purge failed")
			continue
		}
		if n > 0 {
			logging.Info().Int("deleted", n).Str("task", name).Msg("Storage purge complete")
		}
	}
	if err := c.db.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Storage GC failed")
	}
}

// String implements fmt.Stringer for suture logging.
func (c *Compactor) String() string {
	return "storage-compactor"
}
