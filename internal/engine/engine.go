// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package engine runs the agent's concurrent loops: collection, flush,
// heartbeat, policy refresh, command polling, and lock enforcement. The
// loops share state through the durable queue, the block controller, and
// an atomically swapped policy snapshot; none of them ever blocks another,
// and an RPC failure in one loop never stops the rest.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fleetwatch/agent/internal/collector"
	"github.com/fleetwatch/agent/internal/config"
	"github.com/fleetwatch/agent/internal/controlplane"
	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/queue"
	"github.com/fleetwatch/agent/internal/system"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

// farewellTimeout bounds the shutdown heartbeat; the run context is
// already canceled when it fires.
const farewellTimeout = 5 * time.Second

// ControlPlane is the management surface the loops consume. The concrete
// implementation is controlplane.Client.
type ControlPlane interface {
	EnsureRegistered(ctx context.Context) (int64, error)
	AgentID() int64
	Heartbeat(ctx context.Context, status string) bool
	FetchPolicy(ctx context.Context) (policy.Policy, bool)
	FetchCommands(ctx context.Context) []controlplane.Command
	AckCommand(ctx context.Context, commandID int64, status, message string)
}

// ActivitySink delivers observation events upstream. The concrete
// implementation is activity.Client.
type ActivitySink interface {
	SendActivity(ctx context.Context, e event.ActivityEvent) bool
}

// Params carries the engine's dependencies. Collectors defaults to the
// standard set when nil.
type Params struct {
	Config     config.Config
	Queue      *queue.Store
	Cache      *policy.Cache
	System     *system.Controller
	Probe      sysprobe.Probe
	Control    ControlPlane
	Activity   ActivitySink
	Collectors []collector.Collector
}

// Engine owns the loop lifecycle. Construct with New, drive with Run; the
// engine stops when the context is canceled.
type Engine struct {
	cfg        config.Config
	queue      *queue.Store
	cache      *policy.Cache
	system     *system.Controller
	probe      sysprobe.Probe
	control    ControlPlane
	sink       ActivitySink
	collectors []collector.Collector
	logger     zerolog.Logger

	policy atomic.Pointer[policy.Policy]
	online atomic.Bool
}

// New wires an engine and loads the last cached policy as the starting
// snapshot, so a restart keeps behaving like the previous run until the
// control plane answers again.
func New(p Params) (*Engine, error) {
	switch {
	case p.Queue == nil:
		return nil, errors.New("engine: queue is required")
	case p.Cache == nil:
		return nil, errors.New("engine: policy cache is required")
	case p.System == nil:
		return nil, errors.New("engine: system controller is required")
	case p.Probe == nil:
		return nil, errors.New("engine: probe is required")
	case p.Control == nil:
		return nil, errors.New("engine: control plane client is required")
	case p.Activity == nil:
		return nil, errors.New("engine: activity sink is required")
	}

	collectors := p.Collectors
	if collectors == nil {
		collectors = collector.Defaults(p.Config.Agent.ComputerID, p.Config.Agent.UserID, p.Probe)
	}

	e := &Engine{
		cfg:        p.Config,
		queue:      p.Queue,
		cache:      p.Cache,
		system:     p.System,
		probe:      p.Probe,
		control:    p.Control,
		sink:       p.Activity,
		collectors: collectors,
		logger:     log.WithComponent("engine"),
	}
	cached := p.Cache.Load()
	e.policy.Store(&cached)
	return e, nil
}

// Run executes the loop set until ctx is canceled, then says goodbye to
// the control plane. Routine RPC failures never stop the engine; the
// returned error is nil on a normal shutdown.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str(log.FieldEvent, "engine.start").
		Int64(log.FieldComputerID, e.cfg.Agent.ComputerID).
		Str("version", e.cfg.Agent.Version).
		Str("platform", e.probe.Capabilities().Platform).
		Msg("agent engine starting")

	if _, err := e.control.EnsureRegistered(ctx); err != nil {
		// Starting offline is normal; every loop re-registers on demand.
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.register_deferred").
			Msg("initial registration failed, continuing offline")
	}
	e.emitBootEvent(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.collectionLoop(ctx) })
	g.Go(func() error { return e.flushLoop(ctx) })
	g.Go(func() error { return e.heartbeatLoop(ctx) })
	g.Go(func() error { return e.policyLoop(ctx) })
	g.Go(func() error { return e.commandLoop(ctx) })
	g.Go(func() error { return e.lockEnforceLoop(ctx) })
	err := g.Wait()

	e.farewell()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// farewell reports the agent as offline, best effort with its own
// deadline.
func (e *Engine) farewell() {
	ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
	defer cancel()
	e.control.Heartbeat(ctx, "offline")
	e.logger.Info().
		Str(log.FieldEvent, "engine.stop").
		Msg("agent engine stopped")
}

// emitBootEvent queues the SYSTEM_BOOT presence record. It rides the same
// queue as every other observation, so an offline boot is delivered once
// the sink comes back.
func (e *Engine) emitBootEvent(ctx context.Context) {
	caps := e.probe.Capabilities()
	boot := event.New(e.cfg.Agent.ComputerID, event.TypeSystemBoot)
	boot.Details = map[string]any{
		"boot_id":       uuid.NewString(),
		"agent_version": e.cfg.Agent.Version,
		"device_name":   e.cfg.Agent.DeviceName,
		"agent_user_id": userIDValue(e.cfg.Agent.UserID),
		"username":      e.probe.Username(),
		"presence":      "active",
		"capabilities":  caps.Map(),
	}
	if _, err := e.queue.EnqueueMany(ctx, []event.ActivityEvent{boot}); err != nil {
		e.logger.Error().Err(err).
			Str(log.FieldEvent, "engine.boot_event_failed").
			Msg("could not queue boot event")
		return
	}
	e.logger.Info().
		Str(log.FieldEvent, "engine.boot_event").
		Str("platform", caps.Platform).
		Msg("boot presence queued")
}

// currentPolicy returns the live snapshot. Callers treat it as read-only;
// all mutations build a fresh map and go through swapPolicy.
func (e *Engine) currentPolicy() policy.Policy {
	return *e.policy.Load()
}

func (e *Engine) swapPolicy(p policy.Policy) {
	e.policy.Store(&p)
}

// runtimePolicy is the merged runtime view: built-in defaults, then the
// current snapshot, then local config for keys the control plane never
// sets (today only the browser list).
func (e *Engine) runtimePolicy() policy.Policy {
	merged := policy.Defaults().Overlay(e.currentPolicy())
	merged.SetDefault(policy.KeyBrowsers, e.cfg.Collectors.BrowserHistory.Browsers)
	return merged
}

// collectorPolicy is the view handed to collectors. Local config can force
// a collector off even when the control plane enables it; the reverse does
// not hold.
func (e *Engine) collectorPolicy() policy.Policy {
	merged := e.runtimePolicy()
	if !e.cfg.ProcessesEnabled() {
		merged[policy.KeyEnableProcesses] = false
	}
	if !e.cfg.BrowserHistoryEnabled() {
		merged[policy.KeyEnableBrowser] = false
	}
	if !e.cfg.ActiveWindowEnabled() {
		merged[policy.KeyEnableActiveWindow] = false
	}
	if !e.cfg.IdleTimeEnabled() {
		merged[policy.KeyEnableIdle] = false
	}
	return merged
}

// persistPolicy swaps in the new snapshot and writes it through to the
// cache so it survives a restart.
func (e *Engine) persistPolicy(logger zerolog.Logger, next policy.Policy) {
	e.swapPolicy(next)
	if err := e.cache.Save(next); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.policy_cache_failed").
			Msg("policy applied but not cached")
	}
}

func (e *Engine) setOnline(v bool) {
	e.online.Store(v)
	metrics.SetOnline(v)
}

// Status is the runtime snapshot served by the diagnostics endpoint.
type Status struct {
	AgentID       int64          `json:"agent_id"`
	ComputerID    int64          `json:"computer_id"`
	Version       string         `json:"version"`
	Online        bool           `json:"online"`
	QueueDepth    int64          `json:"queue_depth"`
	PolicyVersion string         `json:"policy_version"`
	Block         system.State   `json:"block"`
	Capabilities  map[string]any `json:"capabilities"`
}

// Status reports the engine's current state. QueueDepth is -1 when the
// queue cannot be read.
func (e *Engine) Status(ctx context.Context) Status {
	depth, err := e.queue.Size(ctx)
	if err != nil {
		depth = -1
	}
	return Status{
		AgentID:       e.control.AgentID(),
		ComputerID:    e.cfg.Agent.ComputerID,
		Version:       e.cfg.Agent.Version,
		Online:        e.online.Load(),
		QueueDepth:    depth,
		PolicyVersion: e.currentPolicy().String(policy.KeyVersion, ""),
		Block:         e.system.Snapshot(),
		Capabilities:  e.probe.Capabilities().Map(),
	}
}

// Ready reports whether the durable queue is usable. The readiness probe
// surfaces the error to local tooling.
func (e *Engine) Ready(ctx context.Context) error {
	_, err := e.queue.Size(ctx)
	return err
}

// userIDValue renders the optional agent user id for event details;
// absent ids serialize as null.
func userIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// sleep waits for d or cancellation, reporting whether the loop should
// keep going.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
