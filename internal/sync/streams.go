// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/transform"
)

// positionWatermark orders positions by server time, falling back to device time.
func positionWatermark(pos *models.ProviderPosition) checkpoint.Watermark {
	t := pos.ServerTime
	if t.IsZero() {
		t = pos.DeviceTime
	}
	return checkpoint.Watermark{Time: t.UTC(), ID: pos.ID}
}

func eventWatermark(pe *models.ProviderEvent) checkpoint.Watermark {
	return checkpoint.Watermark{Time: pe.EventTime.UTC(), ID: pe.ID}
}

func (e *Engine) syncPositions(ctx context.Context, res *CycleResult) error {
	b, from, err := e.begin(ctx, StreamPositions, res)
	if err != nil {
		return err
	}
	w := e.window(from)
	page, err := e.fetchPositions(ctx, w)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	positions := page.records
	res.Fetched = len(positions)

	for i := range positions {
		pos := &positions[i]
		wm := positionWatermark(pos)
		if b.seen(wm) {
			continue
		}
		ref, err := e.directory.Resolve(ctx, pos.DeviceID)
		if err != nil {
			b.halt(stats.ErrorResolution, wm, fmt.Errorf("resolve provider device %d: %w", pos.DeviceID, err))
			break
		}
		if !ref.Active {
			res.Filtered++
		} else if errType, err := e.publishPosition(ctx, pos, ref); err != nil {
			if errType == stats.ErrorTransform {
				b.fail(errType, wm, err)
				continue
			}
			b.halt(errType, wm, err)
			break
		} else {
			res.Published++
		}
		if err := b.advance(ctx, wm); err != nil {
			return err
		}
	}
	if w.capped && !page.truncated {
		b.cover(checkpoint.Watermark{Time: w.to.UTC()})
	}
	return b.save(ctx)
}

// publishPosition publishes the location, sensor readings and heartbeat of one position.
// The returned error type tells record-specific failures from delivery failures.
func (e *Engine) publishPosition(ctx context.Context, pos *models.ProviderPosition, ref models.DeviceRef) (string, error) {
	source := e.builder.Source()
	loc, err := transform.ToLocationEvent(pos, ref, source, e.clock.Now())
	if err != nil {
		return stats.ErrorTransform, fmt.Errorf("position %d: %w", pos.ID, err)
	}
	env, err := e.builder.Location(loc)
	if err != nil {
		return stats.ErrorTransform, fmt.Errorf("position %d: %w", pos.ID, err)
	}
	envs := []*events.Envelope{env}

	for _, reading := range transform.SensorReadings(pos, ref, source) {
		senv, err := e.builder.Sensor(&reading)
		if err != nil {
			return stats.ErrorTransform, fmt.Errorf("position %d sensor %s: %w", pos.ID, reading.SensorType, err)
		}
		envs = append(envs, senv)
	}
	if hb := transform.HealthFromPosition(pos, ref, source); hb != nil {
		henv, err := e.builder.Health(hb)
		if err != nil {
			return stats.ErrorTransform, fmt.Errorf("position %d heartbeat: %w", pos.ID, err)
		}
		envs = append(envs, henv)
	}

	for _, env := range envs {
		if err := e.publish(ctx, env); err != nil {
			return stats.ErrorPublish, err
		}
	}
	return "", nil
}

func (e *Engine) syncEvents(ctx context.Context, res *CycleResult) error {
	b, from, err := e.begin(ctx, StreamEvents, res)
	if err != nil {
		return err
	}
	w := e.window(from)
	page, err := e.fetchEvents(ctx, w)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	evs := page.records
	res.Fetched = len(evs)

	for i := range evs {
		pe := &evs[i]
		wm := eventWatermark(pe)
		if b.seen(wm) {
			continue
		}
		ref, err := e.directory.Resolve(ctx, pe.DeviceID)
		if err != nil {
			b.halt(stats.ErrorResolution, wm, fmt.Errorf("resolve provider device %d: %w", pe.DeviceID, err))
			break
		}
		if !ref.Active {
			res.Filtered++
		} else if handled, errType, err := e.handleEvent(ctx, pe, ref); err != nil {
			if errType == stats.ErrorTransform {
				b.fail(errType, wm, err)
				continue
			}
			b.halt(errType, wm, err)
			break
		} else if handled {
			res.Published++
		} else {
			res.Filtered++
		}
		if err := b.advance(ctx, wm); err != nil {
			return err
		}
	}
	if w.capped && !page.truncated {
		b.cover(checkpoint.Watermark{Time: w.to.UTC()})
	}
	return b.save(ctx)
}

// handleEvent routes one provider event. handled is false for event types the bridge
// does not forward.
func (e *Engine) handleEvent(ctx context.Context, pe *models.ProviderEvent, ref models.DeviceRef) (handled bool, errType string, err error) {
	source := e.builder.Source()
	switch pe.Type {
	case models.EventCommandResult:
		return e.acknowledgeCommand(ctx, pe)

	case models.EventDeviceOnline, models.EventDeviceOffline, models.EventDeviceUnknown:
		ev, err := transform.ConnectionStatus(pe, ref, source)
		if err != nil {
			return false, stats.ErrorTransform, fmt.Errorf("event %d: %w", pe.ID, err)
		}
		env, err := e.builder.Connection(ev)
		if err != nil {
			return false, stats.ErrorTransform, fmt.Errorf("event %d: %w", pe.ID, err)
		}
		if err := e.publish(ctx, env); err != nil {
			return false, stats.ErrorPublish, err
		}
		return true, "", nil

	case models.EventAlarm, models.EventDeviceOverspeed,
		models.EventIgnitionOn, models.EventIgnitionOff,
		models.EventGeofenceEnter, models.EventGeofenceExit,
		models.EventDeviceMoving, models.EventDeviceStopped:
		ev, err := transform.HealthFromEvent(pe, ref, source)
		if err != nil {
			return false, stats.ErrorTransform, fmt.Errorf("event %d: %w", pe.ID, err)
		}
		env, err := e.builder.Health(ev)
		if err != nil {
			return false, stats.ErrorTransform, fmt.Errorf("event %d: %w", pe.ID, err)
		}
		if err := e.publish(ctx, env); err != nil {
			return false, stats.ErrorPublish, err
		}
		return true, "", nil
	}
	return false, "", nil
}

// acknowledgeCommand hands a commandResult event to the dispatcher. Results without a
// matching sent command are logged and dropped.
func (e *Engine) acknowledgeCommand(ctx context.Context, pe *models.ProviderEvent) (bool, string, error) {
	if e.commands == nil {
		return false, "", nil
	}
	result, _ := transform.Attributes(pe.Attributes).String(transform.AttrResult)
	cmd, err := e.commands.AcknowledgeDevice(ctx, pe.DeviceID, result)
	switch {
	case err == nil:
		logging.Debug().
			Str("command_id", cmd.ID).
			Int64("provider_device_id", pe.DeviceID).
			Msg("Command acknowledged from provider event")
		return true, "", nil
	case errors.Is(err, command.ErrNotFound),
		errors.Is(err, command.ErrIllegalTransition),
		errors.Is(err, command.ErrTerminal):
		logging.Debug().
			Err(err).
			Int64("provider_device_id", pe.DeviceID).
			Int64("event_id", pe.ID).
			Msg("Command result without a pending command")
		return false, "", nil
	default:
		return false, stats.ErrorCommandStore, fmt.Errorf("acknowledge command for device %d: %w", pe.DeviceID, err)
	}
}

// syncDevices publishes a connection status event for every roster entry whose status
// changed since the last published value. Roster entries are independent, so failures
// are counted and the rest of the roster is still processed.
func (e *Engine) syncDevices(ctx context.Context, res *CycleResult) error {
	devices, err := e.client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("fetch devices: %w", err)
	}
	res.Fetched = len(devices)
	now := e.clock.Now().UTC()
	source := e.builder.Source()

	for i := range devices {
		d := &devices[i]
		if d.Disabled {
			res.Filtered++
			continue
		}
		status := rosterStatus(d.Status)
		if last, ok := e.roster[d.ID]; ok && last == status {
			continue
		}
		ref, err := e.directory.Resolve(ctx, d.ID)
		if err != nil {
			res.Skipped++
			e.errs.Record(stats.ErrorResolution, fmt.Errorf("resolve provider device %d: %w", d.ID, err))
			continue
		}
		if !ref.Active {
			res.Filtered++
			continue
		}
		changed := now
		if d.LastUpdate != nil && !d.LastUpdate.IsZero() {
			changed = d.LastUpdate.UTC()
		}
		env, err := e.builder.Connection(&models.ConnectionStatusEvent{
			DeviceID:         ref.DeviceID,
			ProviderDeviceID: d.ID,
			CompanyID:        ref.CompanyID,
			Status:           status,
			ChangedTime:      changed,
			Source:           source,
		})
		if err != nil {
			res.Skipped++
			e.errs.Record(stats.ErrorTransform, err)
			continue
		}
		if err := e.publish(ctx, env); err != nil {
			res.Skipped++
			e.errs.Record(stats.ErrorPublish, err)
			continue
		}
		e.roster[d.ID] = status
		res.Published++
	}
	return nil
}

func rosterStatus(s string) string {
	switch s {
	case models.StatusOnline, models.StatusOffline:
		return s
	default:
		return models.StatusUnknown
	}
}
