// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package policy holds the agent's effective policy: a loosely-typed
// mapping merged over built-in defaults so an older agent tolerates
// unknown keys from a newer control plane and vice versa.
package policy

import "maps"

// Policy is the recognized-option mapping. Values arrive from three
// sources with different dynamic types (Go literals, decoded JSON, wire
// conversions); the typed getters coerce across them.
type Policy map[string]any

// Well-known keys.
const (
	KeyVersion               = "version"
	KeyUpdatedAt             = "updated_at"
	KeyCollectionIntervalSec = "collection_interval_sec"
	KeyHeartbeatIntervalSec  = "heartbeat_interval_sec"
	KeyFlushIntervalSec      = "flush_interval_sec"
	KeyEnableProcesses       = "enable_process_collection"
	KeyEnableBrowser         = "enable_browser_collection"
	KeyEnableActiveWindow    = "enable_active_window_collection"
	KeyEnableIdle            = "enable_idle_collection"
	KeyIdleThresholdSec      = "idle_threshold_sec"
	KeyBrowserPollSec        = "browser_poll_interval_sec"
	KeySnapshotLimit         = "process_snapshot_limit"
	KeyHighRiskThreshold     = "high_risk_threshold"
	KeyAutoLockEnabled       = "auto_lock_enabled"
	KeyAdminBlocked          = "admin_blocked"
	KeyBlockedReason         = "blocked_reason"
	KeyBrowsers              = "browsers"
)

// Defaults returns the built-in policy active when the control plane is
// unreachable and no cache exists.
func Defaults() Policy {
	return Policy{
		KeyVersion:               "local-default",
		KeyUpdatedAt:             nil,
		KeyCollectionIntervalSec: 5,
		KeyHeartbeatIntervalSec:  15,
		KeyFlushIntervalSec:      5,
		KeyEnableProcesses:       true,
		KeyEnableBrowser:         true,
		KeyEnableActiveWindow:    true,
		KeyEnableIdle:            true,
		KeyIdleThresholdSec:      120,
		KeyBrowserPollSec:        10,
		KeySnapshotLimit:         50,
		KeyHighRiskThreshold:     85.0,
		KeyAutoLockEnabled:       true,
		KeyAdminBlocked:          false,
		KeyBlockedReason:         nil,
	}
}

// Clone returns a shallow copy. Loop code never mutates a published
// policy in place; it clones, edits, and swaps.
func (p Policy) Clone() Policy {
	out := make(Policy, len(p))
	maps.Copy(out, p)
	return out
}

// Overlay returns a copy of p with all entries of over applied on top.
func (p Policy) Overlay(over Policy) Policy {
	out := p.Clone()
	maps.Copy(out, over)
	return out
}

// SetDefault stores value only when the key is absent.
func (p Policy) SetDefault(key string, value any) {
	if _, ok := p[key]; !ok {
		p[key] = value
	}
}

// Int returns the key coerced to int, or fallback when absent, not numeric
// or zero. Integer policy knobs are intervals, limits and thresholds, where
// zero always means "unset"; callers never want a zero-second loop.
func (p Policy) Int(key string, fallback int) int {
	var n int
	switch v := p[key].(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	case float32:
		n = int(v)
	default:
		return fallback
	}
	if n == 0 {
		return fallback
	}
	return n
}

// Float returns the key coerced to float64, or fallback.
func (p Policy) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Bool returns the key as bool, or fallback when absent or not boolean.
func (p Policy) Bool(key string, fallback bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return fallback
}

// String returns the key as a string, or fallback when absent, nil or
// empty.
func (p Policy) String(key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Strings returns the key as a string slice. JSON decoding yields
// []any, wire conversion []string; both are accepted.
func (p Policy) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
