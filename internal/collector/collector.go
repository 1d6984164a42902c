// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package collector gathers endpoint observations: process snapshots,
// foreground window changes, idle edges, and browser history visits. Each
// collector is cheap, bounded, and isolated; one failing collector must
// never take the collection loop down with it.
//
// Collectors keep per-instance state (watermarks, latches) and are driven
// by a single loop, so they are not safe for concurrent use.
package collector

import (
	"context"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

// Collector produces zero or more events per collection tick. The policy
// argument is the merged runtime view; collectors honor their own enable
// flag and tuning keys from it.
type Collector interface {
	Name() string
	Collect(ctx context.Context, pol policy.Policy) ([]event.ActivityEvent, error)
}

// Defaults returns the standard collector set in collection order.
func Defaults(computerID int64, userID *int64, probe sysprobe.Probe) []Collector {
	return []Collector{
		NewProcessSnapshot(computerID, userID),
		NewActiveWindow(computerID, userID, probe),
		NewIdleTime(computerID, userID, probe),
		NewBrowserHistory(computerID, userID),
	}
}

// userIDValue renders the optional agent user id for event details; absent
// ids serialize as null, matching what the backplane stores.
func userIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
