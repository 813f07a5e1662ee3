// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetbridge/internal/storage"
)

// Filter selects commands for List. Zero fields match everything.
type Filter struct {
	ProviderDeviceID int64
	DeviceID         string
	States           []State
	// NonTerminal restricts the result to commands that can still transition.
	NonTerminal bool
	Limit       int
}

func (f Filter) match(c *Command) bool {
	if f.ProviderDeviceID != 0 && c.ProviderDeviceID != f.ProviderDeviceID {
		return false
	}
	if f.DeviceID != "" && c.DeviceID != f.DeviceID {
		return false
	}
	if f.NonTerminal && c.IsTerminal() {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if c.State == s {
			return true
		}
	}
	return false
}

// sortAndLimit orders by creation time, oldest first.
func sortAndLimit(out []*Command, limit int) []*Command {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Store persists commands.
type Store interface {
	Get(ctx context.Context, id string) (*Command, error)
	Put(ctx context.Context, c *Command) error
	List(ctx context.Context, f Filter) ([]*Command, error)
	// DeleteTerminal removes terminal commands last updated before cutoff.
	DeleteTerminal(ctx context.Context, cutoff time.Time) ([]string, error)
}

const keyPrefix = "command:"

// BadgerStore keeps commands in the shared Badger database.
type BadgerStore struct {
	db *storage.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates a store on db.
func NewBadgerStore(db *storage.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func commandKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Command, error) {
	var c Command
	err := s.db.Get(commandKey(id), &c)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load command %s: %w", id, err)
	}
	return &c, nil
}

func (s *BadgerStore) Put(_ context.Context, c *Command) error {
	if err := s.db.Put(commandKey(c.ID), c); err != nil {
		return fmt.Errorf("save command %s: %w", c.ID, err)
	}
	return nil
}

func (s *BadgerStore) List(_ context.Context, f Filter) ([]*Command, error) {
	var out []*Command
	err := s.db.ForEach([]byte(keyPrefix), func(_, value []byte) error {
		var c Command
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		if f.match(&c) {
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	return sortAndLimit(out, f.Limit), nil
}

func (s *BadgerStore) DeleteTerminal(_ context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.ForEach([]byte(keyPrefix), func(_, value []byte) error {
		var c Command
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		if c.IsTerminal() && c.UpdatedAt.Before(cutoff) {
			ids = append(ids, c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan commands: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(commandKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge commands: %w", err)
	}
	return ids, nil
}

// MemoryStore is a non-durable Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Command
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]*Command{}}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, c *Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Command
	for _, c := range s.items {
		if f.match(c) {
			out = append(out, c.Clone())
		}
	}
	return sortAndLimit(out, f.Limit), nil
}

func (s *MemoryStore) DeleteTerminal(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.items {
		if c.IsTerminal() && c.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
			delete(s.items, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
