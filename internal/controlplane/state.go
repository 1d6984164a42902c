// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package controlplane

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// StateFileName is the registration record under the state directory.
const StateFileName = "agent_state.json"

// StateStore persists the registered agent identity across restarts. A
// restarted agent heartbeats under its old id immediately instead of
// re-registering.
type StateStore struct {
	path string
}

type persistedState struct {
	AgentID    int64  `json:"agent_id"`
	ComputerID int64  `json:"computer_id"`
	UpdatedAt  string `json:"updated_at"`
}

// NewStateStore returns a store rooted in stateDir.
func NewStateStore(stateDir string) *StateStore {
	return &StateStore{path: filepath.Join(stateDir, StateFileName)}
}

// Path returns the state file location.
func (s *StateStore) Path() string { return s.path }

// Load returns the persisted agent id for computerID, or zero when no
// usable state exists. State recorded for a different computer id is
// ignored, so changing the configured identity re-registers cleanly.
func (s *StateStore) Load(computerID int64) int64 {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0
	}
	var st persistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0
	}
	if st.ComputerID != computerID || st.AgentID <= 0 {
		return 0
	}
	return st.AgentID
}

// Save atomically replaces the state file.
func (s *StateStore) Save(agentID, computerID int64) error {
	raw, err := json.MarshalIndent(persistedState{
		AgentID:    agentID,
		ComputerID: computerID,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write agent state: %w", err)
	}
	return nil
}
