// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package storage wraps BadgerDB as the embedded durable store for sync checkpoints
// and command records. Values are JSON; keys are namespaced by prefix per owner.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/logging"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage is closed")
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")
)

// gcRatio is the value-log discard ratio passed to RunValueLogGC.
const gcRatio = 0.5

// DB is a BadgerDB handle with JSON helpers.
type DB struct {
	db       *badger.DB
	inMemory bool
	mu       sync.RWMutex
	closed   bool
}

// Open opens (or creates) the database described by cfg.
func Open(cfg *config.StorageConfig) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("in_memory", cfg.InMemory).
		Msg("Storage opened")
	return &DB{db: db, inMemory: cfg.InMemory}, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(&config.StorageConfig{InMemory: true})
}

func (d *DB) checkNotClosed() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// Get reads key and unmarshals it into v. Returns ErrNotFound for missing keys.
func (d *DB) Get(key []byte, v any) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	return d.db.View(func(txn *badger.Txn) error {
		return GetTxn(txn, key, v)
	})
}

// Put marshals v and stores it under key.
func (d *DB) Put(key []byte, v any) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return PutTxn(txn, key, v)
	})
}

// Delete removes key. Missing keys are not an error.
func (d *DB) Delete(key []byte) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Update runs fn in a read-write transaction.
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// View runs fn in a read-only snapshot transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// ForEach calls fn for every key under prefix, in key order, within one snapshot.
func (d *DB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return d.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTxn reads and unmarshals key within txn.
func GetTxn(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// PutTxn marshals v and writes it within txn.
func PutTxn(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// RunGC reclaims value-log space until Badger reports nothing left to rewrite.
// In-memory databases have no value log and return immediately.
func (d *DB) RunGC() error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	if d.inMemory {
		return nil
	}
	start := time.Now()
	runs := 0
	for {
		err := d.db.RunValueLogGC(gcRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
		runs++
	}
	logging.Debug().Int("rewrites", runs).Dur("duration", time.Since(start)).Msg("Storage GC complete")
	return nil
}

// Close flushes and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
