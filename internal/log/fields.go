// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldAgentID    = "agent_id"
	FieldComputerID = "computer_id"
	FieldCommandID  = "command_id"
	FieldPolicyID   = "policy_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldCollector = "collector"
	FieldLoop      = "loop"

	// Telemetry fields
	FieldActivityType = "activity_type"
	FieldBrowser      = "browser"
	FieldQueueDepth   = "queue_depth"
	FieldBatchSize    = "batch_size"
	FieldAttempts     = "attempts"

	// Control-plane fields
	FieldRPC           = "rpc"
	FieldStatus        = "status"
	FieldCommandType   = "command_type"
	FieldPolicyVersion = "policy_version"
	FieldKeyID         = "key_id"
	FieldReason        = "reason"
)
