// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package risk decides whether a batch of observations warrants locking the
// workstation. The evaluation is a pure function of the batch and the
// effective policy; all state lives with the caller.
package risk

import (
	"fmt"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
)

// Decision is the outcome of evaluating one collection batch.
type Decision struct {
	ShouldBlock bool
	Reason      string
}

// Evaluate applies the block rules in priority order: an administrative block
// wins outright, auto-lock gates everything else, and otherwise the first
// event at or above the high-risk threshold triggers the block.
func Evaluate(events []event.ActivityEvent, pol policy.Policy, defaultThreshold float64, defaultAutoLock bool) Decision {
	threshold := pol.Float(policy.KeyHighRiskThreshold, defaultThreshold)
	autoLock := pol.Bool(policy.KeyAutoLockEnabled, defaultAutoLock)

	if pol.Bool(policy.KeyAdminBlocked, false) {
		reason := pol.String(policy.KeyBlockedReason, "")
		if reason == "" {
			reason = "admin block"
		}
		return Decision{ShouldBlock: true, Reason: reason}
	}

	if !autoLock {
		return Decision{}
	}

	for i := range events {
		if events[i].RiskScore >= threshold {
			return Decision{
				ShouldBlock: true,
				Reason:      fmt.Sprintf("high risk event %s (%v >= %v)", events[i].ActivityType, events[i].RiskScore, threshold),
			}
		}
	}

	return Decision{}
}
