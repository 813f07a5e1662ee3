// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package workerpool provides named, fixed-size worker pools with bounded queues.
//
// Submit never blocks: when every worker is busy and the queue is full the task is
// rejected with ErrQueueFull. A queue depth of zero means direct hand-off, so a task is
// accepted only when a worker is idle.
//
// Shutdown stops intake, lets queued and running tasks finish within a grace period,
// then cancels the task context. Tasks still queued after that are dropped.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/metrics"
)

var (
	ErrQueueFull  = errors.New("worker pool queue full")
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrGraceExceeded is returned by Shutdown when tasks were still running after the grace period.
	ErrGraceExceeded = errors.New("worker pool shutdown grace period exceeded")
)

// Task is a unit of work. ctx is cancelled when the pool is forcibly drained.
type Task func(ctx context.Context)

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	QueueCap   int    `json:"queueCapacity"`
	QueueDepth int    `json:"queueDepth"`
	Active     int64  `json:"active"`
	Completed  uint64 `json:"completed"`
	Rejected   uint64 `json:"rejected"`
	Dropped    uint64 `json:"dropped"`
	Panics     uint64 `json:"panics"`
}

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	name    string
	workers int
	tasks   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	active    atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// New starts a pool with the given worker count and queue depth.
func New(name string, workers, queue int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		workers: workers,
		tasks:   make(chan Task, queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.reject()
		return fmt.Errorf("%s: %w", p.name, ErrPoolClosed)
	}
	select {
	case p.tasks <- task:
		metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.tasks)))
		return nil
	default:
		p.reject()
		return fmt.Errorf("%s: %w", p.name, ErrQueueFull)
	}
}

func (p *Pool) reject() {
	p.rejected.Add(1)
	metrics.PoolRejected.WithLabelValues(p.name).Inc()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.tasks)))
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			logging.Error().
				Str("pool", p.name).
				Interface("panic", r).
				Msg("Worker task panicked")
		}
	}()
	task(p.ctx)
}

// Shutdown stops accepting tasks and waits up to grace for queued and running tasks.
// After the grace period the task context is cancelled and ErrGraceExceeded is returned
// without waiting further. Calling Shutdown more than once is safe.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		logging.Warn().
			Str("pool", p.name).
			Int64("active", p.active.Load()).
			Int("queued", len(p.tasks)).
			Dur("grace", grace).
			Msg("Worker pool drain forced after grace period")
		return fmt.Errorf("%s: %w", p.name, ErrGraceExceeded)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:       p.name,
		Workers:    p.workers,
		QueueCap:   cap(p.tasks),
		QueueDepth: len(p.tasks),
		Active:     p.active.Load(),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
		Dropped:    p.dropped.Load(),
		Panics:     p.panics.Load(),
	}
}
