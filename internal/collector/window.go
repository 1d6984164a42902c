// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

// ActiveWindow reports focus changes. Titles are NFC-normalized before the
// transition check so differently composed but identical titles do not
// produce phantom change events.
type ActiveWindow struct {
	computerID int64
	userID     *int64
	probe      sysprobe.Probe
	logger     zerolog.Logger

	lastTitle  string
	warnedOnce bool
}

func NewActiveWindow(computerID int64, userID *int64, probe sysprobe.Probe) *ActiveWindow {
	return &ActiveWindow{
		computerID: computerID,
		userID:     userID,
		probe:      probe,
		logger:     log.WithComponent("collector").With().Str(log.FieldCollector, "active_window").Logger(),
	}
}

func (c *ActiveWindow) Name() string { return "active_window" }

func (c *ActiveWindow) Collect(ctx context.Context, pol policy.Policy) ([]event.ActivityEvent, error) {
	if !pol.Bool(policy.KeyEnableActiveWindow, true) {
		return nil, nil
	}
	caps := c.probe.Capabilities()
	if !caps.ActiveWindow {
		if !c.warnedOnce {
			c.warnedOnce = true
			c.logger.Info().
				Str("event", "collector.window.unsupported").
				Str("platform", caps.Platform).
				Msg("active window collector disabled, capability unavailable")
		}
		return nil, nil
	}

	title := norm.NFC.String(strings.TrimSpace(c.probe.ActiveWindowTitle(ctx)))
	if title == "" || title == c.lastTitle {
		return nil, nil
	}
	c.lastTitle = title

	e := event.New(c.computerID, event.TypeActiveWindowChange)
	e.RiskScore = 1.0
	e.Details = map[string]any{
		"window_title":  title,
		"agent_user_id": userIDValue(c.userID),
	}
	return []event.ActivityEvent{e}, nil
}
