// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package collector

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

const defaultIdleThresholdSec = 120

// IdleTime latches the idle state and emits exactly one event per edge:
// USER_IDLE when input silence crosses the threshold, USER_ACTIVE when the
// user returns. Both edges carry the measured idle duration.
type IdleTime struct {
	computerID int64
	userID     *int64
	probe      sysprobe.Probe
	logger     zerolog.Logger

	idle       bool
	warnedOnce bool
}

func NewIdleTime(computerID int64, userID *int64, probe sysprobe.Probe) *IdleTime {
	return &IdleTime{
		computerID: computerID,
		userID:     userID,
		probe:      probe,
		logger:     log.WithComponent("collector").With().Str(log.FieldCollector, "idle_time").Logger(),
	}
}

func (c *IdleTime) Name() string { return "idle_time" }

func (c *IdleTime) Collect(ctx context.Context, pol policy.Policy) ([]event.ActivityEvent, error) {
	if !pol.Bool(policy.KeyEnableIdle, true) {
		return nil, nil
	}
	caps := c.probe.Capabilities()
	if !caps.IdleTime {
		if !c.warnedOnce {
			c.warnedOnce = true
			c.logger.Info().
				Str("event", "collector.idle.unsupported").
				Str("platform", caps.Platform).
				Msg("idle time collector disabled, capability unavailable")
		}
		return nil, nil
	}

	idleMS := c.probe.IdleTimeMS(ctx)
	if idleMS < 0 {
		idleMS = 0
	}
	thresholdSec := pol.Int(policy.KeyIdleThresholdSec, defaultIdleThresholdSec)

	isIdle := idleMS >= int64(thresholdSec)*1000
	if isIdle == c.idle {
		return nil, nil
	}
	c.idle = isIdle

	typ := event.TypeUserActive
	if isIdle {
		typ = event.TypeUserIdle
	}
	e := event.New(c.computerID, typ)
	e.DurationMS = event.Duration(idleMS)
	e.Details = map[string]any{
		"idle_ms":       idleMS,
		"threshold_sec": thresholdSec,
		"agent_user_id": userIDValue(c.userID),
	}
	return []event.ActivityEvent{e}, nil
}
