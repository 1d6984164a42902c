// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/fleetwatch/agent/internal/log"
)

// Environment variables override file values so containerized installs can
// run without a config file edit.
const (
	EnvComputerID    = "FLEETWATCH_COMPUTER_ID"
	EnvUserID        = "FLEETWATCH_USER_ID"
	EnvDeviceName    = "FLEETWATCH_DEVICE_NAME"
	EnvActivityURL   = "FLEETWATCH_ACTIVITY_URL"
	EnvAgentMgmtURL  = "FLEETWATCH_AGENT_MGMT_URL"
	EnvStateDir      = "FLEETWATCH_STATE_DIR"
	EnvSigningSecret = "FLEETWATCH_SIGNING_SECRET"
	EnvSigningKeyID  = "FLEETWATCH_SIGNING_KEY_ID"
	EnvAllowUnsigned = "FLEETWATCH_ALLOW_UNSIGNED"
	EnvDiagAddr      = "FLEETWATCH_DIAG_ADDR"
	EnvLogLevel      = "FLEETWATCH_LOG_LEVEL"
)

func applyEnv(cfg *Config) {
	logger := log.WithComponent("config")

	if v, ok := envInt64(EnvComputerID); ok {
		cfg.Agent.ComputerID = v
	}
	if v, ok := envInt64(EnvUserID); ok {
		cfg.Agent.UserID = &v
	}
	if v, ok := envString(EnvDeviceName); ok {
		cfg.Agent.DeviceName = v
	}
	if v, ok := envString(EnvActivityURL); ok {
		cfg.Services.ActivityServiceURL = v
	}
	if v, ok := envString(EnvAgentMgmtURL); ok {
		cfg.Services.AgentManagementURL = v
	}
	if v, ok := envString(EnvStateDir); ok {
		cfg.Runtime.StateDir = v
	}
	if v, ok := envString(EnvSigningSecret); ok {
		cfg.Security.ControlPlaneSigning.Secret = v
		logger.Debug().Str("key", EnvSigningSecret).Bool("sensitive", true).
			Msg("using environment variable")
	}
	if v, ok := envString(EnvSigningKeyID); ok {
		cfg.Security.ControlPlaneSigning.KeyID = v
	}
	if v, ok := envBool(EnvAllowUnsigned); ok {
		cfg.Security.ControlPlaneSigning.AllowUnsigned = &v
	}
	if v, ok := envString(EnvDiagAddr); ok {
		cfg.Diagnostics.ListenAddr = v
	}
	if v, ok := envString(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
}

func envString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envInt64(key string) (int64, bool) {
	raw, ok := envString(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", raw).
			Msg("ignoring non-integer environment override")
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw, ok := envString(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", raw).
			Msg("ignoring non-boolean environment override")
		return false, false
	}
	return v, true
}
