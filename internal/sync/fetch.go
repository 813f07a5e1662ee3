// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/provider"
)

// fetchWindow is the time range one cycle asks the provider for.
type fetchWindow struct {
	from   time.Time
	to     time.Time
	capped bool // to was clamped by MaxFetchWindow
}

func (e *Engine) window(from time.Time) fetchWindow {
	w := fetchWindow{from: from, to: e.clock.Now()}
	if span := e.cfg.MaxFetchWindow; span > 0 {
		if limit := from.Add(span); limit.Before(w.to) {
			w.to = limit
			w.capped = true
		}
	}
	return w
}

// activeRoster returns the provider device IDs to query, skipping disabled devices.
func (e *Engine) activeRoster(ctx context.Context) ([]int64, error) {
	devices, err := e.client.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch device roster: %w", err)
	}
	ids := make([]int64, 0, len(devices))
	for i := range devices {
		if !devices[i].Disabled {
			ids = append(ids, devices[i].ID)
		}
	}
	return ids, nil
}

// fetched is a merged, watermark-ordered page across the roster.
type fetched[T any] struct {
	records   []T
	truncated bool // more records may exist inside the window
}

// fetchPerDevice queries each device for the window with the batch limit and merges the
// results. When a device fills its limit, records past the earliest such device's last
// watermark are dropped so nothing behind the new checkpoint is left unfetched.
func fetchPerDevice[T any](
	ctx context.Context,
	devices []int64,
	limit int,
	fetch func(ctx context.Context, deviceID int64) ([]T, error),
	watermark func(*T) checkpoint.Watermark,
) (fetched[T], error) {
	var (
		out     fetched[T]
		horizon checkpoint.Watermark
	)
	for _, id := range devices {
		recs, err := fetch(ctx, id)
		if err != nil {
			return fetched[T]{}, fmt.Errorf("device %d: %w", id, err)
		}
		if limit > 0 && len(recs) >= limit {
			last := watermark(&recs[0])
			for i := range recs {
				if wm := watermark(&recs[i]); wm.After(last) {
					last = wm
				}
			}
			if !out.truncated || horizon.After(last) {
				horizon = last
			}
			out.truncated = true
		}
		out.records = append(out.records, recs...)
	}

	sort.SliceStable(out.records, func(i, j int) bool {
		return watermark(&out.records[i]).Compare(watermark(&out.records[j])) < 0
	})
	if out.truncated {
		n := sort.Search(len(out.records), func(i int) bool {
			return watermark(&out.records[i]).After(horizon)
		})
		out.records = out.records[:n]
	}
	if limit > 0 && len(out.records) > limit {
		out.records = out.records[:limit]
		out.truncated = true
	}
	return out, nil
}

func (e *Engine) fetchPositions(ctx context.Context, w fetchWindow) (fetched[models.ProviderPosition], error) {
	devices, err := e.activeRoster(ctx)
	if err != nil {
		return fetched[models.ProviderPosition]{}, err
	}
	return fetchPerDevice(ctx, devices, e.cfg.BatchSize,
		func(ctx context.Context, id int64) ([]models.ProviderPosition, error) {
			return e.client.Positions(ctx, provider.PositionQuery{
				DeviceID: id,
				From:     w.from,
				To:       w.to,
				Limit:    e.cfg.BatchSize,
			})
		},
		positionWatermark,
	)
}

func (e *Engine) fetchEvents(ctx context.Context, w fetchWindow) (fetched[models.ProviderEvent], error) {
	devices, err := e.activeRoster(ctx)
	if err != nil {
		return fetched[models.ProviderEvent]{}, err
	}
	return fetchPerDevice(ctx, devices, e.cfg.BatchSize,
		func(ctx context.Context, id int64) ([]models.ProviderEvent, error) {
			return e.client.Events(ctx, provider.EventQuery{
				DeviceID: id,
				From:     w.from,
				To:       w.to,
				Limit:    e.cfg.BatchSize,
			})
		},
		eventWatermark,
	)
}
