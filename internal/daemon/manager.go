// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: it runs the engine, serves
// the local diagnostics listener, and tears everything down in order when
// the run context ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/agent/internal/log"
)

// defaultShutdownTimeout bounds teardown when the caller sets none.
const defaultShutdownTimeout = 30 * time.Second

// ShutdownHook performs one piece of cleanup during shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Runner is the long-lived workload the daemon supervises; the agent
// engine implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// Manager drives the daemon lifecycle.
type Manager interface {
	// Start runs the workload and blocks until the context ends or the
	// workload returns, then performs the shutdown sequence.
	Start(ctx context.Context) error

	// Shutdown stops the diagnostics listener and runs all hooks. Calling
	// it again is a no-op.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook adds a named cleanup step.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	runner      Runner
	diagHandler http.Handler
	diagAddr    string
	timeout     time.Duration

	diagServer *http.Server

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Options configures a Manager. Runner is required; the diagnostics
// listener starts only when both Diagnostics and DiagnosticsAddr are set.
type Options struct {
	Runner          Runner
	Diagnostics     http.Handler
	DiagnosticsAddr string
	ShutdownTimeout time.Duration
}

// NewManager validates the options and builds a manager.
func NewManager(opts Options) (Manager, error) {
	if opts.Runner == nil {
		return nil, ErrMissingRunner
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &manager{
		runner:      opts.Runner,
		diagHandler: opts.Diagnostics,
		diagAddr:    opts.DiagnosticsAddr,
		timeout:     timeout,
		logger:      log.WithComponent("daemon"),
	}, nil
}

// Start runs the workload until ctx ends. The diagnostics listener is
// best effort: a bind failure is logged and the agent keeps working
// without it.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("daemon: start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("diagnostics_addr", m.diagAddr).
		Dur("shutdown_timeout", m.timeout).
		Msg("daemon starting")

	m.startDiagnostics()

	runErr := m.runner.Run(ctx)

	// Teardown must finish even though ctx is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (m *manager) startDiagnostics() {
	if m.diagHandler == nil || m.diagAddr == "" {
		m.logger.Info().Msg("diagnostics endpoint disabled")
		return
	}

	m.diagServer = &http.Server{
		Addr:              m.diagAddr,
		Handler:           m.diagHandler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		m.logger.Info().
			Str("addr", m.diagAddr).
			Str(log.FieldEvent, "daemon.diagnostics_listening").
			Msg("diagnostics endpoint listening")
		if err := m.diagServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The endpoint is an aid, not the job; the agent keeps going.
			m.logger.Error().Err(err).
				Str(log.FieldEvent, "daemon.diagnostics_failed").
				Msg("diagnostics endpoint failed, continuing without it")
		}
	}()
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("daemon: shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().Int("hooks", len(hooks)).Msg("daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	var errs []error
	if m.diagServer != nil {
		if err := m.diagServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook finished")
	}

	if len(errs) > 0 {
		return fmt.Errorf("daemon shutdown: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

// RegisterShutdownHook adds a cleanup step. Hooks registered first run
// last, mirroring construction order.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
