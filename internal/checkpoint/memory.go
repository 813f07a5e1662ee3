// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package checkpoint

import (
	"context"
	"sort"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a non-durable Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Checkpoint
	// saves counts successful Save calls.
	saves int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Checkpoint{}}
}

func (s *MemoryStore) Load(ctx context.Context, stream string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.items[stream]
	if !ok {
		return Checkpoint{Stream: stream}, ErrNotFound
	}
	return cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[cp.Stream]; ok {
		if err := validateAdvance(prev, cp); err != nil {
			return err
		}
	}
	s.items[cp.Stream] = cp
	s.saves++
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, 0, len(s.items))
	for _, cp := range s.items {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
