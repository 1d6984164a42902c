// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/fleetwatch/agent/internal/log"
)

// CacheFileName is the on-disk policy document under the state directory.
const CacheFileName = "policy_cache.json"

// Cache persists the last-known policy so a restart without network still
// applies the control plane's most recent instructions.
type Cache struct {
	path string
}

// NewCache returns a cache rooted in stateDir.
func NewCache(stateDir string) *Cache {
	return &Cache{path: filepath.Join(stateDir, CacheFileName)}
}

// Path returns the cache file location.
func (c *Cache) Path() string { return c.path }

// Load returns the cached policy merged over defaults. A missing or
// unreadable file degrades to the built-in defaults; the agent must never
// fail to start because of a corrupt cache.
func (c *Cache) Load() Policy {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return Defaults()
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		logger := log.WithComponent("policy")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "policy.cache_corrupt").
			Str("path", c.path).
			Msg("discarding unreadable policy cache")
		return Defaults()
	}
	return Defaults().Overlay(data)
}

// Save writes the policy merged over defaults as pretty-printed UTF-8
// JSON. The write is atomic: fsync on a temp file, then rename.
func (c *Cache) Save(p Policy) error {
	merged := Defaults().Overlay(p)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(merged); err != nil {
		return fmt.Errorf("encode policy cache: %w", err)
	}

	pending, err := renameio.NewPendingFile(c.path)
	if err != nil {
		return fmt.Errorf("create pending policy cache: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write policy cache: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace policy cache: %w", err)
	}
	return nil
}
