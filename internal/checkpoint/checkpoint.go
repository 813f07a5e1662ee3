// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package checkpoint persists per-stream sync high-water marks.
//
// A watermark is the (time, provider id) of the last successfully published record.
// Stores only move forward: Save rejects a watermark earlier than the stored one
// with ErrRegression.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Load for streams that were never checkpointed.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrRegression is returned by Save when the watermark would move backwards.
	ErrRegression = errors.New("checkpoint regression")
)

// Watermark orders provider records by time, then by provider-assigned id.
type Watermark struct {
	Time time.Time `json:"time"`
	ID   int64     `json:"id"`
}

// IsZero reports whether the watermark was never set.
func (w Watermark) IsZero() bool {
	return w.Time.IsZero() && w.ID == 0
}

// Compare returns -1, 0 or +1 as w is before, equal to or after o.
func (w Watermark) Compare(o Watermark) int {
	switch {
	case w.Time.Before(o.Time):
		return -1
	case w.Time.After(o.Time):
		return 1
	case w.ID < o.ID:
		return -1
	case w.ID > o.ID:
		return 1
	default:
		return 0
	}
}

// After reports whether w is strictly after o.
func (w Watermark) After(o Watermark) bool {
	return w.Compare(o) > 0
}

// Checkpoint is the persisted state of one stream.
type Checkpoint struct {
	Stream    string    `json:"stream"`
	Watermark Watermark `json:"watermark"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Records is the running total of records committed under this checkpoint.
	Records int64 `json:"records"`
}

// Store persists checkpoints.
type Store interface {
	Load(ctx context.Context, stream string) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	List(ctx context.Context) ([]Checkpoint, error)
}

// validateAdvance checks next does not regress from prev.
func validateAdvance(prev, next Checkpoint) error {
	if next.Watermark.Compare(prev.Watermark) < 0 {
		return ErrRegression
	}
	return nil
}
