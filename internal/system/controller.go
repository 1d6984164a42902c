// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package system owns the workstation block state. The controller is the
// only writer of that state; collection, command, and enforcement loops all
// funnel their block decisions through Apply.
package system

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

// lockDebounce bounds real OS lock invocations. Enforcement ticks every two
// seconds while blocked; without the debounce a dismissed lock screen would
// come back instantly and make the desktop unusable for diagnosis.
const lockDebounce = 3 * time.Second

// State is a point-in-time copy of the controller's block state.
type State struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// Controller tracks whether the workstation should be locked and performs
// the actual OS lock, rate limited to one real attempt per debounce window.
// When the host cannot lock at all, the state is kept virtually so that
// self-observations still report the workstation as blocked.
type Controller struct {
	probe   sysprobe.Probe
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu         sync.Mutex
	active     bool
	reason     string
	warnedOnce bool
}

func NewController(probe sysprobe.Probe) *Controller {
	return &Controller{
		probe:   probe,
		limiter: rate.NewLimiter(rate.Every(lockDebounce), 1),
		logger:  log.WithComponent("system"),
	}
}

// Active reports whether the block state is currently set.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Reason returns the reason attached to the current block state, or "".
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Snapshot returns a copy of the block state for diagnostics.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Active: c.active, Reason: c.reason}
}

// Apply moves the block state. Clearing resets the reason; setting it stores
// the reason (or "policy block") and attempts a real OS lock, subject to the
// capability check and the debounce.
func (c *Controller) Apply(ctx context.Context, shouldBlock bool, reason string) {
	c.mu.Lock()

	if !shouldBlock {
		if c.active {
			c.logger.Info().
				Str("event", "system.block.cleared").
				Msg("block state cleared by policy/command")
		}
		c.active = false
		c.reason = ""
		c.mu.Unlock()
		return
	}

	c.active = true
	if reason == "" {
		reason = "policy block"
	}
	c.reason = reason

	caps := c.probe.Capabilities()
	if !caps.Lock {
		if !c.warnedOnce {
			c.warnedOnce = true
			c.logger.Warn().
				Str("event", "system.lock.unsupported").
				Str("platform", caps.Platform).
				Msg("lock requested but locking is not supported here, keeping virtual block state only")
		}
		c.mu.Unlock()
		return
	}

	if !c.limiter.Allow() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The OS call happens outside the lock; it can take seconds.
	ok := c.probe.LockWorkstation(ctx)
	metrics.RecordLockAttempt()
	c.logger.Warn().
		Str("event", "system.lock.attempt").
		Bool("ok", ok).
		Str(log.FieldReason, reason).
		Msg("lock workstation requested")
}
