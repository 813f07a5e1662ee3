// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetbridge/internal/storage"
)

const keyPrefix = "checkpoint:"

var _ Store = (*BadgerStore)(nil)

// BadgerStore keeps checkpoints in the shared Badger database.
type BadgerStore struct {
	db *storage.DB
}

// NewBadgerStore creates a store on db.
func NewBadgerStore(db *storage.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func key(stream string) []byte {
	return []byte(keyPrefix + stream)
}

// Load returns the stream's checkpoint or ErrNotFound.
func (s *BadgerStore) Load(ctx context.Context, stream string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.Get(key(stream), &cp)
	if errors.Is(err, storage.ErrNotFound) {
		return Checkpoint{Stream: stream}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{Stream: stream}, fmt.Errorf("load checkpoint %s: %w", stream, err)
	}
	return cp, nil
}

// Save stores cp, comparing against the stored value in the same transaction.
func (s *BadgerStore) Save(ctx context.Context, cp Checkpoint) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev Checkpoint
		err := storage.GetTxn(txn, key(cp.Stream), &prev)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := validateAdvance(prev, cp); err != nil {
				return err
			}
		}
		return storage.PutTxn(txn, key(cp.Stream), cp)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Stream, err)
	}
	return nil
}

// List returns all checkpoints ordered by stream.
func (s *BadgerStore) List(ctx context.Context) ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.ForEach([]byte(keyPrefix), func(_, value []byte) error {
		var cp Checkpoint
		if err := json.Unmarshal(value, &cp); err != nil {
			return err
		}
		out = append(out, cp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}
