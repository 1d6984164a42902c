// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/fleetwatch/agent/internal/log"
)

// Watch re-loads the config file whenever it changes and hands the result
// to onReload. A file that fails to load or validate is ignored so a bad
// edit never takes down a running agent. Watch returns once the watcher is
// installed; the loop stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	logger := log.WithComponent("config")
	logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	go watchLoop(ctx, watcher, path, onReload, logger)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onReload func(Config), logger zerolog.Logger) {
	defer func() { _ = watcher.Close() }()

	// Debounce so editors that write in several bursts trigger one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				cfg, err := Load(path)
				if err != nil {
					logger.Error().Err(err).
						Str(log.FieldEvent, "config.reload_failed").
						Msg("config change ignored, keeping previous configuration")
					return
				}
				logger.Info().
					Str(log.FieldEvent, "config.reload_success").
					Msg("configuration reloaded")
				onReload(cfg)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}
