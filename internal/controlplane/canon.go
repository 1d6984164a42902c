// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package controlplane implements the agent's management-plane client:
// registration, heartbeats, policy and command retrieval, and HMAC
// verification of everything the control plane hands down.
package controlplane

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"

	"github.com/fleetwatch/agent/internal/rpc"
)

// Canonical signing payloads. Signer and verifier must produce identical
// bytes for identical messages: newline-joined key=value lines with a
// trailing newline, strings base64-encoded, bools as 1/0, and floats
// pinned to the decimal value of their IEEE-754 float32 bit pattern.
// Field order is part of the contract and never changes.

type canonical struct {
	lines []string
}

func (c *canonical) put(key, value string) {
	c.lines = append(c.lines, key+"="+value)
}

func (c *canonical) str(key, value string) {
	c.put(key, base64.StdEncoding.EncodeToString([]byte(value)))
}

func (c *canonical) num(key string, value int64) {
	c.put(key, strconv.FormatInt(value, 10))
}

func (c *canonical) flag(key string, value bool) {
	if value {
		c.put(key, "1")
		return
	}
	c.put(key, "0")
}

func (c *canonical) f32bits(key string, value float64) {
	c.num(key, int64(math.Float32bits(float32(value))))
}

func (c *canonical) bytes() []byte {
	return []byte(strings.Join(c.lines, "\n") + "\n")
}

func canonicalPolicyPayload(p *rpc.AgentPolicy) []byte {
	var c canonical
	c.str("kind", "policy")
	c.num("id", p.ID)
	c.num("agent_id", p.AgentID)
	c.num("computer_id", p.ComputerID)
	c.str("policy_version", p.PolicyVersion)
	c.num("collection_interval_sec", int64(p.CollectionIntervalSec))
	c.num("heartbeat_interval_sec", int64(p.HeartbeatIntervalSec))
	c.num("flush_interval_sec", int64(p.FlushIntervalSec))
	c.flag("enable_process_collection", p.EnableProcessCollection)
	c.flag("enable_browser_collection", p.EnableBrowserCollection)
	c.flag("enable_active_window_collection", p.EnableActiveWindowCollection)
	c.flag("enable_idle_collection", p.EnableIdleCollection)
	c.num("idle_threshold_sec", int64(p.IdleThresholdSec))
	c.num("browser_poll_interval_sec", int64(p.BrowserPollIntervalSec))
	c.num("process_snapshot_limit", int64(p.ProcessSnapshotLimit))
	c.f32bits("high_risk_threshold_f32bits", p.HighRiskThreshold)
	c.flag("auto_lock_enabled", p.AutoLockEnabled)
	c.flag("admin_blocked", p.AdminBlocked)
	c.str("blocked_reason", p.BlockedReason)
	c.str("updated_at", p.UpdatedAt)
	c.num("browsers_count", int64(len(p.Browsers)))
	for i, browser := range p.Browsers {
		c.str("browsers_"+strconv.Itoa(i), browser)
	}
	return c.bytes()
}

func canonicalCommandPayload(cmd *rpc.AgentCommand) []byte {
	var c canonical
	c.str("kind", "command")
	c.num("id", cmd.ID)
	c.num("agent_id", cmd.AgentID)
	c.str("type", cmd.Type)
	c.str("payload_json", cmd.PayloadJSON)
	c.str("status", cmd.Status)
	c.str("requested_by", cmd.RequestedBy)
	c.str("result_message", cmd.ResultMessage)
	c.str("created_at", cmd.CreatedAt)
	c.str("acknowledged_at", cmd.AcknowledgedAt)
	return c.bytes()
}
