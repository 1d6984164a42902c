// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package config provides configuration management for the agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetwatch/agent/internal/version"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "config/agent.local.yaml"

// Config is the root of the agent's YAML configuration.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Services    ServicesConfig    `yaml:"services"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Collectors  CollectorsConfig  `yaml:"collectors"`
	Risk        RiskConfig        `yaml:"risk"`
	Security    SecurityConfig    `yaml:"security"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	LogLevel    string            `yaml:"log_level,omitempty"`
}

// AgentConfig identifies this agent installation.
type AgentConfig struct {
	ComputerID int64  `yaml:"computer_id"`
	UserID     *int64 `yaml:"user_id,omitempty"`
	Version    string `yaml:"version,omitempty"`
	DeviceName string `yaml:"device_name,omitempty"`
}

// ServicesConfig holds the upstream gRPC targets.
type ServicesConfig struct {
	ActivityServiceURL string `yaml:"activity_service_url,omitempty"`
	AgentManagementURL string `yaml:"agent_management_url,omitempty"`
}

// RuntimeConfig holds loop periods and batching limits.
type RuntimeConfig struct {
	StateDir                 string `yaml:"state_dir,omitempty"`
	HeartbeatIntervalSec     int    `yaml:"heartbeat_interval_sec,omitempty"`
	PolicyRefreshIntervalSec int    `yaml:"policy_refresh_interval_sec,omitempty"`
	FlushIntervalSec         int    `yaml:"flush_interval_sec,omitempty"`
	CollectionIntervalSec    int    `yaml:"collection_interval_sec,omitempty"`
	MaxBatchSize             int    `yaml:"max_batch_size,omitempty"`
}

// CollectorsConfig groups per-collector settings. Enabled flags use
// pointers to distinguish "not set" (default on) from an explicit false.
type CollectorsConfig struct {
	Processes      ProcessesConfig      `yaml:"processes,omitempty"`
	BrowserHistory BrowserHistoryConfig `yaml:"browser_history,omitempty"`
	ActiveWindow   ActiveWindowConfig   `yaml:"active_window,omitempty"`
	IdleTime       IdleTimeConfig       `yaml:"idle_time,omitempty"`
}

type ProcessesConfig struct {
	Enabled       *bool `yaml:"enabled,omitempty"`
	SnapshotLimit int   `yaml:"snapshot_limit,omitempty"`
}

type BrowserHistoryConfig struct {
	Enabled         *bool    `yaml:"enabled,omitempty"`
	PollIntervalSec int      `yaml:"poll_interval_sec,omitempty"`
	Browsers        []string `yaml:"browsers,omitempty"`
}

type ActiveWindowConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

type IdleTimeConfig struct {
	Enabled          *bool `yaml:"enabled,omitempty"`
	IdleThresholdSec int   `yaml:"idle_threshold_sec,omitempty"`
}

// RiskConfig holds the local fallback risk settings applied when the
// control plane supplies no policy.
type RiskConfig struct {
	LocalHighRiskThreshold float64 `yaml:"local_high_risk_threshold,omitempty"`
	EnableAutoLock         *bool   `yaml:"enable_auto_lock,omitempty"`
}

// SecurityConfig wraps control-plane payload signing settings.
type SecurityConfig struct {
	ControlPlaneSigning SigningConfig `yaml:"control_plane_signing,omitempty"`
}

// SigningConfig configures HMAC verification of policies and commands.
type SigningConfig struct {
	Secret        string `yaml:"secret,omitempty"`
	KeyID         string `yaml:"key_id,omitempty"`
	AllowUnsigned *bool  `yaml:"allow_unsigned,omitempty"`
}

// DiagnosticsConfig configures the local diagnostics HTTP endpoint.
type DiagnosticsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Default returns the built-in configuration. ComputerID is deliberately
// zero so validation forces an explicit identity.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Version:    version.Version,
			DeviceName: "unknown-device",
		},
		Services: ServicesConfig{
			ActivityServiceURL: "localhost:5001",
			AgentManagementURL: "localhost:5015",
		},
		Runtime: RuntimeConfig{
			StateDir:                 "./state",
			HeartbeatIntervalSec:     15,
			PolicyRefreshIntervalSec: 30,
			FlushIntervalSec:         5,
			CollectionIntervalSec:    5,
			MaxBatchSize:             100,
		},
		Collectors: CollectorsConfig{
			Processes:      ProcessesConfig{SnapshotLimit: 50},
			BrowserHistory: BrowserHistoryConfig{PollIntervalSec: 10, Browsers: []string{"chrome", "edge", "firefox"}},
			IdleTime:       IdleTimeConfig{IdleThresholdSec: 120},
		},
		Risk: RiskConfig{
			LocalHighRiskThreshold: 85.0,
		},
		Security: SecurityConfig{
			ControlPlaneSigning: SigningConfig{},
		},
		Diagnostics: DiagnosticsConfig{
			ListenAddr: "127.0.0.1:9437",
		},
	}
}

// Load reads the YAML file at path, overlays environment variables and
// validates the result. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's --config flag
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize fills zero values the YAML overwrote with empty entries.
func (c *Config) normalize() {
	d := Default()
	if c.Agent.Version == "" {
		c.Agent.Version = d.Agent.Version
	}
	if c.Agent.DeviceName == "" {
		c.Agent.DeviceName = d.Agent.DeviceName
	}
	if c.Services.ActivityServiceURL == "" {
		c.Services.ActivityServiceURL = d.Services.ActivityServiceURL
	}
	if c.Services.AgentManagementURL == "" {
		c.Services.AgentManagementURL = d.Services.AgentManagementURL
	}
	if c.Runtime.StateDir == "" {
		c.Runtime.StateDir = d.Runtime.StateDir
	}
	if c.Runtime.HeartbeatIntervalSec <= 0 {
		c.Runtime.HeartbeatIntervalSec = d.Runtime.HeartbeatIntervalSec
	}
	if c.Runtime.PolicyRefreshIntervalSec <= 0 {
		c.Runtime.PolicyRefreshIntervalSec = d.Runtime.PolicyRefreshIntervalSec
	}
	if c.Runtime.FlushIntervalSec <= 0 {
		c.Runtime.FlushIntervalSec = d.Runtime.FlushIntervalSec
	}
	if c.Runtime.CollectionIntervalSec <= 0 {
		c.Runtime.CollectionIntervalSec = d.Runtime.CollectionIntervalSec
	}
	if c.Runtime.MaxBatchSize <= 0 {
		c.Runtime.MaxBatchSize = d.Runtime.MaxBatchSize
	}
	if c.Collectors.Processes.SnapshotLimit <= 0 {
		c.Collectors.Processes.SnapshotLimit = d.Collectors.Processes.SnapshotLimit
	}
	if c.Collectors.BrowserHistory.PollIntervalSec <= 0 {
		c.Collectors.BrowserHistory.PollIntervalSec = d.Collectors.BrowserHistory.PollIntervalSec
	}
	if len(c.Collectors.BrowserHistory.Browsers) == 0 {
		c.Collectors.BrowserHistory.Browsers = d.Collectors.BrowserHistory.Browsers
	}
	if c.Collectors.IdleTime.IdleThresholdSec <= 0 {
		c.Collectors.IdleTime.IdleThresholdSec = d.Collectors.IdleTime.IdleThresholdSec
	}
	if c.Risk.LocalHighRiskThreshold <= 0 {
		c.Risk.LocalHighRiskThreshold = d.Risk.LocalHighRiskThreshold
	}
	if c.Diagnostics.ListenAddr == "" {
		c.Diagnostics.ListenAddr = d.Diagnostics.ListenAddr
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.ComputerID <= 0 {
		errs = append(errs, fmt.Errorf("agent.computer_id must be a positive integer (got %d)", c.Agent.ComputerID))
	}
	if c.Services.ActivityServiceURL == "" {
		errs = append(errs, errors.New("services.activity_service_url must not be empty"))
	}
	if c.Services.AgentManagementURL == "" {
		errs = append(errs, errors.New("services.agent_management_url must not be empty"))
	}
	if c.Runtime.StateDir == "" {
		errs = append(errs, errors.New("runtime.state_dir must not be empty"))
	}
	if c.Risk.LocalHighRiskThreshold < 0 || c.Risk.LocalHighRiskThreshold > 100 {
		errs = append(errs, fmt.Errorf("risk.local_high_risk_threshold must be in [0,100] (got %g)", c.Risk.LocalHighRiskThreshold))
	}
	return errors.Join(errs...)
}

// ProcessesEnabled reports whether the process collector is on (default true).
func (c *Config) ProcessesEnabled() bool { return boolOr(c.Collectors.Processes.Enabled, true) }

// BrowserHistoryEnabled reports whether the browser collector is on (default true).
func (c *Config) BrowserHistoryEnabled() bool {
	return boolOr(c.Collectors.BrowserHistory.Enabled, true)
}

// ActiveWindowEnabled reports whether the window collector is on (default true).
func (c *Config) ActiveWindowEnabled() bool { return boolOr(c.Collectors.ActiveWindow.Enabled, true) }

// IdleTimeEnabled reports whether the idle collector is on (default true).
func (c *Config) IdleTimeEnabled() bool { return boolOr(c.Collectors.IdleTime.Enabled, true) }

// AutoLockEnabled reports the local auto-lock fallback (default true).
func (c *Config) AutoLockEnabled() bool { return boolOr(c.Risk.EnableAutoLock, true) }

// AllowUnsigned reports whether unsigned control-plane payloads are
// accepted (default true, matching a deployment without a signing secret).
func (c *Config) AllowUnsigned() bool {
	return boolOr(c.Security.ControlPlaneSigning.AllowUnsigned, true)
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
