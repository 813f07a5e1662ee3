// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/metrics"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/provider"
	"github.com/tomtom215/fleetbridge/internal/retry"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

var (
	ErrNotFound          = errors.New("command not found")
	ErrIllegalTransition = errors.New("illegal command state transition")
	ErrTerminal          = errors.New("command is in a terminal state")
	ErrInvalidRequest    = errors.New("invalid command request")
)

// requeueDelay is how long timer work waits when the command pool queue is full.
const requeueDelay = time.Second

// Sender delivers commands to the provider. provider.Client satisfies it.
type Sender interface {
	SendCommand(ctx context.Context, req provider.CommandRequest) (*models.ProviderCommand, error)
}

// Config holds dispatcher timing.
type Config struct {
	AckTimeout time.Duration
	TTL        time.Duration
	MaxRetries int
	// Retention is how long terminal commands are kept before PurgeTerminal removes them.
	Retention time.Duration
	// Retry supplies delays and error classification. Its MaxAttempts is not consulted;
	// MaxRetries bounds re-sends.
	Retry retry.Policy
}

// NewConfig derives dispatcher settings from the commands config section.
func NewConfig(cfg *config.CommandConfig, retention time.Duration, clk clock.Clock) Config {
	return Config{
		AckTimeout: cfg.AckTimeout,
		TTL:        cfg.TTL,
		MaxRetries: cfg.MaxRetries,
		Retention:  retention,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			BaseDelay:   cfg.BaseDelay,
			Multiplier:  cfg.Multiplier,
			MaxDelay:    cfg.MaxDelay,
			Classify:    Classify,
			Clock:       clk,
		},
	}
}

// Classify reports whether a send failure may be retried. Transport errors, including
// degraded provider responses, are retryable. Semantic and auth rejections are not.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	if provider.IsSemantic(err) || provider.IsAuth(err) {
		return false
	}
	return retry.IsRetryable(err)
}

// SubmitRequest is a new command. Validation tags are enforced by the API layer.
type SubmitRequest struct {
	DeviceID         string         `json:"deviceId" validate:"required,max=128"`
	CompanyID        string         `json:"companyId" validate:"required,max=128"`
	ProviderDeviceID int64          `json:"providerDeviceId" validate:"required,gt=0"`
	Type             string         `json:"type" validate:"required,max=64,identifier"`
	Description      string         `json:"description,omitempty" validate:"max=256"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	// Retryable defaults to true. Set false for commands that must not be re-sent.
	Retryable *bool `json:"retryable,omitempty"`
}

// Event is the payload of every command lifecycle envelope.
type Event struct {
	CommandID         string    `json:"commandId"`
	DeviceID          string    `json:"deviceId"`
	CompanyID         string    `json:"companyId"`
	ProviderDeviceID  int64     `json:"providerDeviceId"`
	ProviderCommandID int64     `json:"providerCommandId,omitempty"`
	Type              string    `json:"type"`
	State             State     `json:"state"`
	PreviousState     State     `json:"previousState"`
	RetryCount        int       `json:"retryCount"`
	MaxRetries        int       `json:"maxRetries"`
	Terminal          bool      `json:"terminal"`
	Reason            string    `json:"reason,omitempty"`
	At                time.Time `json:"at"`
}

// Deps are the dispatcher collaborators. Publisher, Errors and Perf may be nil.
type Deps struct {
	Store     Store
	Sender    Sender
	Publisher events.Publisher
	Builder   *events.Builder
	Pool      *workerpool.Pool
	Clock     clock.Clock
	Errors    *stats.ErrorTracker
	Perf      *stats.PerfCounters
}

// Dispatcher drives the command state machine.
type Dispatcher struct {
	cfg       Config
	store     Store
	sender    Sender
	publisher events.Publisher
	builder   *events.Builder
	pool      *workerpool.Pool
	clock     clock.Clock
	errs      *stats.ErrorTracker
	perf      *stats.PerfCounters
	log       zerolog.Logger

	locks sync.Map // command id -> *sync.Mutex

	mu     sync.Mutex
	timers map[string]clock.Timer
	closed bool
}

// NewDispatcher creates a dispatcher. Call Recover (or Serve) before accepting traffic.
func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = clk
	}
	if cfg.Retry.Classify == nil {
		cfg.Retry.Classify = Classify
	}
	builder := deps.Builder
	if builder == nil {
		builder = events.NewBuilder("fleetbridge", clk)
	}
	errs := deps.Errors
	if errs == nil {
		errs = stats.NewErrorTracker(clk)
	}
	perf := deps.Perf
	if perf == nil {
		perf = stats.NewPerfCounters(clk)
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     deps.Store,
		sender:    deps.Sender,
		publisher: deps.Publisher,
		builder:   builder,
		pool:      deps.Pool,
		clock:     clk,
		errs:      errs,
		perf:      perf,
		log:       logging.WithComponent("dispatcher"),
		timers:    make(map[string]clock.Timer),
	}
}

// String names the service in the supervisor tree.
func (d *Dispatcher) String() string { return "command-dispatcher" }

// Serve recovers in-flight commands and holds their timers until ctx is done.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if _, err := d.Recover(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Close()
	return ctx.Err()
}

// Close stops every pending timer. Persisted state is picked up again by Recover.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

// Submit records a PENDING command and queues its first send.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*Command, error) {
	if req.DeviceID == "" || req.ProviderDeviceID <= 0 || strings.TrimSpace(req.Type) == "" {
		return nil, fmt.Errorf("%w: deviceId, providerDeviceId and type are required", ErrInvalidRequest)
	}

	now := d.clock.Now().UTC()
	c := &Command{
		ID:               uuid.NewString(),
		DeviceID:         req.DeviceID,
		CompanyID:        req.CompanyID,
		ProviderDeviceID: req.ProviderDeviceID,
		Type:             req.Type,
		Description:      req.Description,
		Attributes:       req.Attributes,
		State:            StatePending,
		MaxRetries:       d.cfg.MaxRetries,
		Retryable:        req.Retryable == nil || *req.Retryable,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(d.cfg.TTL),
		History:          []Transition{},
	}
	if c.Attributes == nil {
		c.Attributes = map[string]any{}
	}
	if err := d.store.Put(ctx, c); err != nil {
		d.errs.Record(stats.ErrorCommandStore, err)
		return nil, err
	}
	metrics.CommandsActive.Inc()
	metrics.RecordCommandTransition(string(StatePending))
	d.perf.Inc("commands.submitted")

	// A busy pool defers the first send; the command stays PENDING meanwhile.
	d.dispatch(c.ID, d.sendTask(c.ID))

	d.log.Info().
		Str("command_id", c.ID).
		Str("device_id", c.DeviceID).
		Str("type", c.Type).
		Msg("Command submitted")
	return c, nil
}

// Get returns a command by id.
func (d *Dispatcher) Get(ctx context.Context, id string) (*Command, error) {
	return d.store.Get(ctx, id)
}

// List returns commands matching f, oldest first.
func (d *Dispatcher) List(ctx context.Context, f Filter) ([]*Command, error) {
	return d.store.List(ctx, f)
}

// Acknowledge moves a SENT command to ACKNOWLEDGED.
func (d *Dispatcher) Acknowledge(ctx context.Context, id, result string) (*Command, error) {
	return d.advance(ctx, id, StateAcknowledged, result)
}

// MarkExecuting moves a command to EXECUTING, passing through ACKNOWLEDGED if needed.
func (d *Dispatcher) MarkExecuting(ctx context.Context, id, result string) (*Command, error) {
	return d.advance(ctx, id, StateExecuting, result)
}

// MarkExecuted moves a command to EXECUTED along the success path.
func (d *Dispatcher) MarkExecuted(ctx context.Context, id, result string) (*Command, error) {
	return d.advance(ctx, id, StateExecuted, result)
}

// AcknowledgeDevice acknowledges the oldest SENT command of a provider device. The
// events sync uses it for provider commandResult events, which do not carry a command id.
// If the listed command moves on before its lock is taken, the device is listed once more.
func (d *Dispatcher) AcknowledgeDevice(ctx context.Context, providerDeviceID int64, result string) (*Command, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var cmds []*Command
		cmds, err = d.store.List(ctx, Filter{
			ProviderDeviceID: providerDeviceID,
			States:           []State{StateSent},
			Limit:            1,
		})
		if err != nil {
			return nil, err
		}
		if len(cmds) == 0 {
			return nil, fmt.Errorf("no sent command for provider device %d: %w", providerDeviceID, ErrNotFound)
		}
		var c *Command
		c, err = d.advance(ctx, cmds[0].ID, StateAcknowledged, result)
		if err == nil || !(errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrTerminal)) {
			return c, err
		}
		d.log.Debug().Err(err).Str("command_id", cmds[0].ID).Msg("Listed command changed state, listing again")
	}
	return nil, err
}

// Fail records an explicit failure signal. A retryable failure is re-sent while retries remain.
func (d *Dispatcher) Fail(ctx context.Context, id, reason string, retryable bool) (*Command, error) {
	return d.withCommand(ctx, id, func(c *Command) error {
		if c.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, c.ID, c.State)
		}
		if !CanTransition(c.State, StateFailed) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.State, StateFailed)
		}
		if !retryable {
			d.errs.Record(stats.ErrorCommandSemantic, errors.New(reason))
		}
		c.LastError = reason
		return d.fail(ctx, c, StateFailed, reason, retryable)
	})
}

// Cancel cancels a PENDING, SENT or RETRY command and drops its timers.
func (d *Dispatcher) Cancel(ctx context.Context, id, reason string) (*Command, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	return d.withCommand(ctx, id, func(c *Command) error {
		c.AckDeadline = time.Time{}
		c.NextAttemptAt = time.Time{}
		return d.transition(ctx, c, StateCancelled, reason)
	})
}

// Recover re-arms timers and queues sends for every non-terminal command. It returns the
// number of commands recovered.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	cmds, err := d.store.List(ctx, Filter{NonTerminal: true})
	if err != nil {
		return 0, fmt.Errorf("recover commands: %w", err)
	}
	for _, c := range cmds {
		metrics.CommandsActive.Inc()
		if _, err := d.withCommand(ctx, c.ID, func(c *Command) error {
			return d.recoverLocked(ctx, c)
		}); err != nil {
			d.log.Error().Err(err).Str("command_id", c.ID).Msg("Failed to recover command")
		}
	}
	if len(cmds) > 0 {
		d.log.Info().Int("count", len(cmds)).Msg("Recovered in-flight commands")
	}
	return len(cmds), nil
}

func (d *Dispatcher) recoverLocked(ctx context.Context, c *Command) error {
	now := d.clock.Now()
	switch c.State {
	case StatePending:
		d.dispatch(c.ID, d.sendTask(c.ID))
	case StateSent:
		d.armAckTimeout(c)
	case StateRetry:
		wait := c.NextAttemptAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
		d.armRetry(c.ID, wait)
	case StateFailed, StateTimeout:
		// Final was false when persisted, so a retry had already been granted.
		return d.scheduleRetry(ctx, c, d.cfg.Retry.Delay(c.RetryCount+1))
	}
	return nil
}

// PurgeTerminal deletes terminal commands older than the retention window. It matches
// storage.PurgeFunc so the compactor can run it.
func (d *Dispatcher) PurgeTerminal(ctx context.Context) (int, error) {
	cutoff := d.clock.Now().Add(-d.cfg.Retention)
	ids, err := d.store.DeleteTerminal(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		d.locks.Delete(id)
	}
	return len(ids), nil
}

func (d *Dispatcher) lock(id string) *sync.Mutex {
	v, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withCommand loads id under its lock, applies fn and returns the resulting record.
func (d *Dispatcher) withCommand(ctx context.Context, id string, fn func(c *Command) error) (*Command, error) {
	mu := d.lock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return c, err
	}
	return c, nil
}

// transition validates, persists and announces one state change. On a store failure the
// in-memory command is rolled back and nothing is published.
func (d *Dispatcher) transition(ctx context.Context, c *Command, to State, reason string) error {
	if c.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, c.ID, c.State)
	}
	if !CanTransition(c.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.State, to)
	}

	now := d.clock.Now().UTC()
	prev, prevUpdated := c.State, c.UpdatedAt
	c.History = append(c.History, Transition{From: prev, To: to, At: now, Reason: reason})
	c.State = to
	c.UpdatedAt = now

	if err := d.store.Put(ctx, c); err != nil {
		c.State, c.UpdatedAt = prev, prevUpdated
		c.History = c.History[:len(c.History)-1]
		d.errs.Record(stats.ErrorCommandStore, err)
		return err
	}

	metrics.RecordCommandTransition(string(to))
	d.perf.Inc("commands.state." + strings.ToLower(string(to)))
	if c.IsTerminal() {
		metrics.CommandsActive.Dec()
		d.stopTimer(c.ID)
	}

	l := logging.WithCommand(c.ID)
	l.Info().
		Str("from", string(prev)).
		Str("to", string(to)).
		Int("retry_count", c.RetryCount).
		Str("reason", reason).
		Msg("Command transition")

	d.emit(ctx, prev, c, reason)
	return nil
}

func (d *Dispatcher) emit(ctx context.Context, prev State, c *Command, reason string) {
	eventType, ok := eventTypes[c.State]
	if !ok || d.publisher == nil {
		return
	}
	payload := Event{
		CommandID:         c.ID,
		DeviceID:          c.DeviceID,
		CompanyID:         c.CompanyID,
		ProviderDeviceID:  c.ProviderDeviceID,
		ProviderCommandID: c.ProviderCommandID,
		Type:              c.Type,
		State:             c.State,
		PreviousState:     prev,
		RetryCount:        c.RetryCount,
		MaxRetries:        c.MaxRetries,
		Terminal:          c.IsTerminal(),
		Reason:            reason,
		At:                c.UpdatedAt,
	}
	id := events.CommandEventID(c.ID, string(c.State), c.RetryCount)
	env, err := d.builder.Build(eventType, id, c.DeviceID, c.CompanyID, payload)
	if err == nil {
		err = d.publisher.Publish(ctx, events.TopicForType(eventType), env)
	}
	if err != nil {
		d.errs.Record(stats.ErrorPublish, err)
		d.log.Warn().Err(err).
			Str("command_id", c.ID).
			Str("state", string(c.State)).
			Msg("Failed to publish command event")
	}
}

// advance walks the success path from the current state to target.
func (d *Dispatcher) advance(ctx context.Context, id string, target State, result string) (*Command, error) {
	return d.withCommand(ctx, id, func(c *Command) error {
		if c.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, c.ID, c.State)
		}
		from, to := pathIndex(c.State), pathIndex(target)
		if from < 0 || to <= from {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.State, target)
		}
		if result != "" {
			c.Result = result
		}
		c.AckDeadline = time.Time{}
		for _, s := range successPath[from+1 : to+1] {
			if err := d.transition(ctx, c, s, result); err != nil {
				return err
			}
		}
		d.stopTimer(c.ID)
		return nil
	})
}

func (d *Dispatcher) sendTask(id string) workerpool.Task {
	return func(ctx context.Context) {
		if _, err := d.withCommand(ctx, id, func(c *Command) error {
			return d.sendLocked(ctx, c)
		}); err != nil {
			d.log.Error().Err(err).Str("command_id", id).Msg("Command send step failed")
		}
	}
}

func (d *Dispatcher) sendLocked(ctx context.Context, c *Command) error {
	if c.State != StatePending && c.State != StateRetry {
		return nil
	}
	if !d.clock.Now().Before(c.ExpiresAt) {
		c.Final = true
		c.LastError = "expired"
		return d.transition(ctx, c, StateFailed, "command expired before send")
	}

	c.SendAttempts++
	start := d.clock.Now()
	resp, err := d.sender.SendCommand(ctx, provider.CommandRequest{
		DeviceID:    c.ProviderDeviceID,
		Type:        c.Type,
		Description: c.Description,
		Attributes:  c.Attributes,
	})
	metrics.RecordCommandSend(err)
	d.perf.Observe("commands.send", d.clock.Now().Sub(start))

	if err != nil {
		c.LastError = err.Error()
		retryable := Classify(err)
		if retryable {
			d.errs.Record(stats.ErrorTransport, err)
		} else {
			d.errs.Record(stats.ErrorCommandSemantic, err)
		}
		return d.fail(ctx, c, StateFailed, "send failed", retryable)
	}

	if resp != nil {
		c.ProviderCommandID = resp.ID
	}
	c.LastError = ""
	c.NextAttemptAt = time.Time{}
	c.AckDeadline = d.clock.Now().Add(d.cfg.AckTimeout).UTC()
	if err := d.transition(ctx, c, StateSent, ""); err != nil {
		return err
	}
	d.armAckTimeout(c)
	return nil
}

// fail enters FAILED or TIMEOUT and, when eligible, RETRY. Eligibility is decided first
// so the persisted failure already records whether it is final.
func (d *Dispatcher) fail(ctx context.Context, c *Command, to State, reason string, retryable bool) error {
	delay := d.cfg.Retry.Delay(c.RetryCount + 1)
	eligible := retryable &&
		c.Retryable &&
		c.RetryCount < c.MaxRetries &&
		d.clock.Now().Add(delay).Before(c.ExpiresAt)

	c.Final = !eligible
	c.AckDeadline = time.Time{}
	if err := d.transition(ctx, c, to, reason); err != nil {
		return err
	}
	if !eligible {
		return nil
	}
	return d.scheduleRetry(ctx, c, delay)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, c *Command, delay time.Duration) error {
	if !d.clock.Now().Add(delay).Before(c.ExpiresAt) {
		// Only reachable from recovery: the window closed while the process was down.
		c.Final = true
		if err := d.store.Put(ctx, c); err != nil {
			return err
		}
		metrics.CommandsActive.Dec()
		return nil
	}
	c.RetryCount++
	c.NextAttemptAt = d.clock.Now().Add(delay).UTC()
	if err := d.transition(ctx, c, StateRetry, fmt.Sprintf("retry %d/%d in %s", c.RetryCount, c.MaxRetries, delay)); err != nil {
		c.RetryCount--
		c.NextAttemptAt = time.Time{}
		return err
	}
	d.armRetry(c.ID, delay)
	return nil
}

func (d *Dispatcher) armAckTimeout(c *Command) {
	id, attempt := c.ID, c.SendAttempts
	wait := c.AckDeadline.Sub(d.clock.Now())
	if wait < 0 {
		wait = 0
	}
	d.setTimer(id, d.clock.AfterFunc(wait, func() {
		d.dispatch(id, func(ctx context.Context) {
			if _, err := d.withCommand(ctx, id, func(c *Command) error {
				return d.ackTimeoutLocked(ctx, c, attempt)
			}); err != nil {
				d.log.Error().Err(err).Str("command_id", id).Msg("Acknowledgement timeout step failed")
			}
		})
	}))
}

func (d *Dispatcher) ackTimeoutLocked(ctx context.Context, c *Command, attempt int) error {
	// Acknowledged, cancelled or re-sent since the timer was armed.
	if c.State != StateSent || c.SendAttempts != attempt {
		return nil
	}
	c.LastError = fmt.Sprintf("no acknowledgement within %s", d.cfg.AckTimeout)
	d.errs.Record(stats.ErrorCommandTimeout, errors.New(c.LastError))
	return d.fail(ctx, c, StateTimeout, c.LastError, true)
}

func (d *Dispatcher) armRetry(id string, delay time.Duration) {
	d.setTimer(id, d.clock.AfterFunc(delay, func() {
		d.dispatch(id, d.sendTask(id))
	}))
}

// dispatch hands work to the command pool. A full queue defers the work briefly;
// a closed pool drops it and the next start recovers the command from the store.
func (d *Dispatcher) dispatch(id string, task workerpool.Task) {
	err := d.pool.Submit(task)
	if err == nil || errors.Is(err, workerpool.ErrPoolClosed) {
		return
	}
	d.log.Warn().Err(err).Str("command_id", id).Dur("retry_in", requeueDelay).Msg("Command pool busy, deferring work")
	d.setTimer(id, d.clock.AfterFunc(requeueDelay, func() { d.dispatch(id, task) }))
}

func (d *Dispatcher) setTimer(id string, t clock.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		t.Stop()
		return
	}
	if old, ok := d.timers[id]; ok {
		old.Stop()
	}
	d.timers[id] = t
}

func (d *Dispatcher) stopTimer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
}
