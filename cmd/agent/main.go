// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Command agent is the Fleetwatch endpoint agent: it observes one
// workstation, queues observations locally, and syncs them with the
// control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fleetwatch/agent/internal/activity"
	"github.com/fleetwatch/agent/internal/config"
	"github.com/fleetwatch/agent/internal/controlplane"
	"github.com/fleetwatch/agent/internal/daemon"
	"github.com/fleetwatch/agent/internal/diagnostics"
	"github.com/fleetwatch/agent/internal/engine"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/queue"
	"github.com/fleetwatch/agent/internal/sysprobe"
	"github.com/fleetwatch/agent/internal/system"
	"github.com/fleetwatch/agent/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetwatch-agent %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: *logLevel, Service: "fleetwatch-agent"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.config_failed").
			Str("path", *configPath).
			Msg("cannot load configuration")
	}
	if *logLevel == "" && cfg.LogLevel != "" {
		log.ApplyLevel(cfg.LogLevel)
	}
	if cfg.Agent.DeviceName == "unknown-device" {
		if hn, err := os.Hostname(); err == nil && hn != "" {
			cfg.Agent.DeviceName = hn
		}
	}

	logger.Info().
		Str(log.FieldEvent, "main.start").
		Str("version", version.Version).
		Int64(log.FieldComputerID, cfg.Agent.ComputerID).
		Str("config", *configPath).
		Msg("fleetwatch agent starting")
	logger.Info().Msgf("→ activity sink: %s", cfg.Services.ActivityServiceURL)
	logger.Info().Msgf("→ control plane: %s", cfg.Services.AgentManagementURL)
	logger.Info().Msgf("→ state dir: %s", cfg.Runtime.StateDir)
	logger.Info().Msgf("→ diagnostics: %s", cfg.Diagnostics.ListenAddr)
	if cfg.Security.ControlPlaneSigning.Secret == "" {
		logger.Warn().Msg("→ control-plane signing: no secret configured, payloads are trusted as-is")
	} else {
		logger.Info().Msg("→ control-plane signing: enabled")
	}

	if err := os.MkdirAll(cfg.Runtime.StateDir, 0o750); err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.state_dir_failed").
			Str("path", cfg.Runtime.StateDir).
			Msg("cannot create the state directory")
	}

	store, err := queue.Open(filepath.Join(cfg.Runtime.StateDir, queue.FileName))
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.queue_failed").
			Msg("cannot open the offline queue")
	}

	control, err := controlplane.NewClient(controlplane.Options{
		URL:           cfg.Services.AgentManagementURL,
		ComputerID:    cfg.Agent.ComputerID,
		Version:       cfg.Agent.Version,
		SigningSecret: cfg.Security.ControlPlaneSigning.Secret,
		SigningKeyID:  cfg.Security.ControlPlaneSigning.KeyID,
		AllowUnsigned: cfg.AllowUnsigned(),
		StateDir:      cfg.Runtime.StateDir,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.controlplane_failed").
			Msg("cannot set up the control-plane client")
	}

	sink, err := activity.NewClient(cfg.Services.ActivityServiceURL)
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.activity_failed").
			Msg("cannot set up the activity client")
	}

	probe := sysprobe.System()
	eng, err := engine.New(engine.Params{
		Config:   cfg,
		Queue:    store,
		Cache:    policy.NewCache(cfg.Runtime.StateDir),
		System:   system.NewController(probe),
		Probe:    probe,
		Control:  control,
		Activity: sink,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.engine_failed").
			Msg("cannot build the engine")
	}

	mgr, err := daemon.NewManager(daemon.Options{
		Runner:          eng,
		Diagnostics:     diagnostics.Handler(eng),
		DiagnosticsAddr: cfg.Diagnostics.ListenAddr,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.daemon_failed").
			Msg("cannot build the daemon manager")
	}

	mgr.RegisterShutdownHook("queue", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("controlplane_client", func(context.Context) error { return control.Close() })
	mgr.RegisterShutdownHook("activity_client", func(context.Context) error { return sink.Close() })

	if err := config.Watch(ctx, *configPath, func(next config.Config) {
		// The flag pins the level for the whole run.
		if *logLevel != "" {
			return
		}
		log.ApplyLevel(next.LogLevel)
	}); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "main.watch_failed").
			Msg("config watcher unavailable, log level is fixed for this run")
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "main.run_failed").
			Msg("agent run failed")
	}
	logger.Info().Str(log.FieldEvent, "main.stop").Msg("agent exiting")
}
