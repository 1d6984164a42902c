// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/agent/internal/controlplane"
	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/risk"
)

const (
	// commandPollPeriod is fixed; command latency matters more than the
	// tiny saving a policy-driven period would buy.
	commandPollPeriod = 5 * time.Second

	// lockEnforcePeriod keeps an administratively blocked workstation
	// locked even when the user dismisses the lock screen.
	lockEnforcePeriod = 2 * time.Second
)

// collectionLoop gathers observations every collection interval. The
// period re-reads the policy each pass, so a control-plane change takes
// effect on the next tick without a restart.
func (e *Engine) collectionLoop(ctx context.Context) error {
	logger := e.logger.With().Str(log.FieldLoop, "collection").Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.collectOnce(ctx, logger)
		period := max(1, e.currentPolicy().Int(policy.KeyCollectionIntervalSec, e.cfg.Runtime.CollectionIntervalSec))
		if !sleep(ctx, seconds(period)) {
			return ctx.Err()
		}
	}
}

func (e *Engine) collectOnce(ctx context.Context, logger zerolog.Logger) {
	pol := e.collectorPolicy()

	var events []event.ActivityEvent
	for _, col := range e.collectors {
		out, err := col.Collect(ctx, pol)
		if err != nil {
			metrics.RecordCollectorError(col.Name())
			logger.Error().Err(err).
				Str(log.FieldEvent, "engine.collector_failed").
				Str(log.FieldCollector, col.Name()).
				Msg("collector failed, continuing with the rest")
			continue
		}
		metrics.RecordEventsCollected(col.Name(), len(out))
		events = append(events, out...)
	}

	if e.system.Active() {
		events = append(events, e.blockEnforcedEvent())
	}
	if len(events) == 0 {
		return
	}

	decision := risk.Evaluate(events, e.currentPolicy(), e.cfg.Risk.LocalHighRiskThreshold, e.cfg.AutoLockEnabled())
	if decision.ShouldBlock {
		reason := decision.Reason
		if reason == "" {
			reason = "policy"
		}
		e.system.Apply(ctx, true, reason)
	}

	if _, err := e.queue.EnqueueMany(ctx, events); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "engine.enqueue_failed").
			Int(log.FieldBatchSize, len(events)).
			Msg("dropping collected batch, queue write failed")
		return
	}
	depth, _ := e.queue.Size(ctx)
	logger.Debug().
		Int(log.FieldBatchSize, len(events)).
		Int64(log.FieldQueueDepth, depth).
		Msg("batch queued")
}

// blockEnforcedEvent reports that the block state was active during this
// collection pass, so upstream sees enforcement even on an otherwise idle
// workstation.
func (e *Engine) blockEnforcedEvent() event.ActivityEvent {
	ev := event.New(e.cfg.Agent.ComputerID, event.TypeBlockEnforced)
	ev.IsBlocked = true
	ev.Details = map[string]any{
		"reason":        e.system.Reason(),
		"agent_user_id": userIDValue(e.cfg.Agent.UserID),
	}
	return ev
}

// flushLoop drains the queue toward the sink. A fully delivered batch
// rolls straight into the next one; an empty queue or any failure waits a
// full period so a dead sink is not hammered.
func (e *Engine) flushLoop(ctx context.Context) error {
	logger := e.logger.With().Str(log.FieldLoop, "flush").Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.flushOnce(ctx, logger) {
			continue
		}
		period := max(1, e.currentPolicy().Int(policy.KeyFlushIntervalSec, e.cfg.Runtime.FlushIntervalSec))
		if !sleep(ctx, seconds(period)) {
			return ctx.Err()
		}
	}
}

// flushOnce sends one batch in queue order, stopping at the first refusal
// so ordering survives an outage. It reports whether a non-empty batch was
// delivered completely.
func (e *Engine) flushOnce(ctx context.Context, logger zerolog.Logger) bool {
	batch, err := e.queue.DequeueBatch(ctx, e.cfg.Runtime.MaxBatchSize)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "engine.dequeue_failed").
			Msg("could not read queue")
		return false
	}
	if len(batch) == 0 {
		return false
	}

	var sent, failed []int64
	for _, row := range batch {
		if e.sink.SendActivity(ctx, row.Event) {
			sent = append(sent, row.ID)
			continue
		}
		// The rest stays queued; the next pass retries from here.
		failed = append(failed, row.ID)
		break
	}

	e.setOnline(len(failed) == 0)

	if err := e.queue.MarkSent(ctx, sent); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "engine.mark_sent_failed").
			Msg("delivered rows were not deleted, duplicates possible")
	}
	if err := e.queue.MarkFailed(ctx, failed, "grpc send failed"); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.mark_failed_failed").
			Msg("failed rows were not annotated")
	}

	depth, _ := e.queue.Size(ctx)
	logger.Debug().
		Int("sent", len(sent)).
		Int("failed", len(failed)).
		Int64(log.FieldQueueDepth, depth).
		Msg("flush pass finished")

	return len(failed) == 0
}

// heartbeatLoop reports liveness. The status degrades when the last flush
// could not deliver, giving operators an early offline signal while events
// are still queuing locally.
func (e *Engine) heartbeatLoop(ctx context.Context) error {
	logger := e.logger.With().Str(log.FieldLoop, "heartbeat").Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.heartbeatOnce(ctx, logger)
		period := max(5, e.currentPolicy().Int(policy.KeyHeartbeatIntervalSec, e.cfg.Runtime.HeartbeatIntervalSec))
		if !sleep(ctx, seconds(period)) {
			return ctx.Err()
		}
	}
}

func (e *Engine) heartbeatOnce(ctx context.Context, logger zerolog.Logger) {
	status := "degraded"
	if e.online.Load() {
		status = "online"
	}
	ok := e.control.Heartbeat(ctx, status)
	e.setOnline(ok)
	logger.Debug().
		Str(log.FieldStatus, status).
		Bool("accepted", ok).
		Msg("heartbeat sent")
}

// policyLoop refreshes the policy snapshot from the control plane. The
// fetched overlay is merged over the runtime view and swapped in whole, so
// readers never observe a half-updated policy.
func (e *Engine) policyLoop(ctx context.Context) error {
	logger := e.logger.With().Str(log.FieldLoop, "policy").Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.policyOnce(ctx, logger)
		if !sleep(ctx, seconds(max(5, e.cfg.Runtime.PolicyRefreshIntervalSec))) {
			return ctx.Err()
		}
	}
}

func (e *Engine) policyOnce(ctx context.Context, logger zerolog.Logger) {
	remote, ok := e.control.FetchPolicy(ctx)
	if !ok {
		return
	}
	merged := e.runtimePolicy().Overlay(remote)
	e.persistPolicy(logger, merged)
	metrics.RecordPolicyUpdate()
	logger.Info().
		Str(log.FieldEvent, "engine.policy_updated").
		Str(log.FieldPolicyVersion, merged.String(policy.KeyVersion, "")).
		Msg("policy updated from control plane")
}

// commandLoop polls for pending commands on a fixed period.
func (e *Engine) commandLoop(ctx context.Context) error {
	logger := e.logger.With().Str(log.FieldLoop, "command").Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.commandOnce(ctx, logger)
		if !sleep(ctx, commandPollPeriod) {
			return ctx.Err()
		}
	}
}

func (e *Engine) commandOnce(ctx context.Context, logger zerolog.Logger) {
	for _, cmd := range e.control.FetchCommands(ctx) {
		e.dispatchCommand(ctx, logger, cmd)
	}
}

// dispatchCommand executes one verified control-plane command and always
// acknowledges it, so the control plane never re-delivers.
func (e *Engine) dispatchCommand(ctx context.Context, logger zerolog.Logger, cmd controlplane.Command) {
	commandType := strings.ToUpper(cmd.Type)
	logger = logger.With().
		Int64(log.FieldCommandID, cmd.ID).
		Str(log.FieldCommandType, commandType).
		Logger()

	switch commandType {
	case "BLOCK_WORKSTATION":
		reason, _ := cmd.Payload["reason"].(string)
		if reason == "" {
			reason = "admin command"
		}
		next := e.currentPolicy().Clone()
		next[policy.KeyAdminBlocked] = true
		next[policy.KeyBlockedReason] = reason
		e.persistPolicy(logger, next)
		e.system.Apply(ctx, true, reason)
		e.control.AckCommand(ctx, cmd.ID, "success", "Workstation blocked")
		metrics.RecordCommand(commandType, "success")
		logger.Warn().
			Str(log.FieldEvent, "engine.workstation_blocked").
			Str(log.FieldReason, reason).
			Msg("workstation blocked on control-plane command")

	case "UNBLOCK_WORKSTATION":
		next := e.currentPolicy().Clone()
		next[policy.KeyAdminBlocked] = false
		next[policy.KeyBlockedReason] = nil
		e.persistPolicy(logger, next)
		e.system.Apply(ctx, false, "")
		e.control.AckCommand(ctx, cmd.ID, "success", "Workstation unblocked")
		metrics.RecordCommand(commandType, "success")
		logger.Info().
			Str(log.FieldEvent, "engine.workstation_unblocked").
			Msg("workstation unblocked on control-plane command")

	default:
		e.control.AckCommand(ctx, cmd.ID, "ignored", "Unsupported command: "+commandType)
		metrics.RecordCommand("unknown", "ignored")
		logger.Warn().
			Str(log.FieldEvent, "engine.command_ignored").
			Msg("unsupported command acknowledged as ignored")
	}
}

// lockEnforceLoop re-applies an administrative block on a short fixed
// period. The controller's debounce keeps the real OS lock calls sparse.
func (e *Engine) lockEnforceLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.enforceOnce(ctx)
		if !sleep(ctx, lockEnforcePeriod) {
			return ctx.Err()
		}
	}
}

func (e *Engine) enforceOnce(ctx context.Context) {
	current := e.currentPolicy()
	if !current.Bool(policy.KeyAdminBlocked, false) {
		return
	}
	reason := current.String(policy.KeyBlockedReason, "admin block")
	e.system.Apply(ctx, true, reason)
}
