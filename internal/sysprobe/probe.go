// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package sysprobe answers the small set of questions the agent asks the
// host OS: how long input has been idle, which window is focused, and
// whether the session can be locked. Each platform contributes its own
// primitives behind build tags; everything degrades to a harmless zero
// value when the host cannot answer.
package sysprobe

import (
	"context"
	"os"
	"sync"
)

// Capabilities reports which probes the current host actually supports.
// The agent ships the same binary to very different desktops, so support
// is discovered at startup rather than assumed per GOOS.
type Capabilities struct {
	Platform     string
	IdleTime     bool
	ActiveWindow bool
	Lock         bool
}

// Map renders the capability set in the shape the boot event reports.
func (c Capabilities) Map() map[string]any {
	return map[string]any{
		"platform":            c.Platform,
		"idle_time_ms":        c.IdleTime,
		"active_window_title": c.ActiveWindow,
		"lock_workstation":    c.Lock,
	}
}

// Probe is the host-facing surface consumed by collectors and the system
// controller. Implementations must be safe for concurrent use.
type Probe interface {
	// Capabilities reports what the host supports. The answer is stable
	// for the process lifetime.
	Capabilities() Capabilities

	// IdleTimeMS returns milliseconds since the last user input, or 0
	// when the host cannot tell.
	IdleTimeMS(ctx context.Context) int64

	// ActiveWindowTitle returns the focused window's title, or "" when
	// unavailable.
	ActiveWindowTitle(ctx context.Context) string

	// LockWorkstation asks the OS to lock the interactive session and
	// reports whether the invocation succeeded.
	LockWorkstation(ctx context.Context) bool

	// Username identifies the interactive user for event attribution.
	Username() string
}

type hostProbe struct {
	once sync.Once
	caps Capabilities
}

var host = &hostProbe{}

// System returns the probe backed by the real host OS.
func System() Probe { return host }

func (h *hostProbe) Capabilities() Capabilities {
	h.once.Do(func() { h.caps = detectCapabilities() })
	return h.caps
}

func (h *hostProbe) IdleTimeMS(ctx context.Context) int64 {
	ms := idleTimeMS(ctx)
	if ms < 0 {
		return 0
	}
	return ms
}

func (h *hostProbe) ActiveWindowTitle(ctx context.Context) string {
	return activeWindowTitle(ctx)
}

func (h *hostProbe) LockWorkstation(ctx context.Context) bool {
	return lockWorkstation(ctx)
}

func (h *hostProbe) Username() string {
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
