// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package event defines the canonical observation record produced by
// collectors and delivered to the activity sink.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Type classifies an observation.
type Type string

const (
	TypeProcessSnapshot    Type = "PROCESS_SNAPSHOT"
	TypeActiveWindowChange Type = "ACTIVE_WINDOW_CHANGE"
	TypeUserIdle           Type = "USER_IDLE"
	TypeUserActive         Type = "USER_ACTIVE"
	TypeBrowserVisit       Type = "BROWSER_VISIT"
	TypeSystemBoot         Type = "SYSTEM_BOOT"
	TypeBlockEnforced      Type = "WORKSTATION_BLOCK_ENFORCED"
)

// String implements fmt.Stringer.
func (t Type) String() string { return string(t) }

// ActivityEvent is one observation. Timestamps are UTC ISO-8601 with a Z
// suffix at millisecond precision; they advance monotonically only within
// a single collector's output.
type ActivityEvent struct {
	ComputerID   int64          `json:"computer_id"`
	ActivityType Type           `json:"activity_type"`
	Timestamp    string         `json:"timestamp"`
	Details      map[string]any `json:"details"`
	DurationMS   *int64         `json:"duration_ms"`
	URL          string         `json:"url"`
	ProcessName  string         `json:"process_name"`
	IsBlocked    bool           `json:"is_blocked"`
	RiskScore    float64        `json:"risk_score"`
}

// New returns an event of the given type stamped with the current time.
func New(computerID int64, typ Type) ActivityEvent {
	return ActivityEvent{
		ComputerID:   computerID,
		ActivityType: typ,
		Timestamp:    Timestamp(time.Now()),
		Details:      map[string]any{},
	}
}

// Timestamp formats t as the wire timestamp ("2006-01-02T15:04:05.000Z").
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Duration wraps a millisecond count for the nullable DurationMS field.
func Duration(ms int64) *int64 { return &ms }

// Encode serializes the event as JSON. HTML escaping is disabled so URLs
// and window titles survive byte-for-byte.
func (e ActivityEvent) Encode() ([]byte, error) {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a serialized event.
func Decode(payload []byte) (ActivityEvent, error) {
	var e ActivityEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return ActivityEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	return e, nil
}

// DetailsJSON renders the details mapping as a compact JSON string for the
// sink's nested representation.
func (e ActivityEvent) DetailsJSON() (string, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(details); err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
