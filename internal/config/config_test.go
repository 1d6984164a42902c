package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
agent:
  computer_id: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Agent.ComputerID)
	assert.Nil(t, cfg.Agent.UserID)
	assert.Equal(t, "localhost:5001", cfg.Services.ActivityServiceURL)
	assert.Equal(t, "localhost:5015", cfg.Services.AgentManagementURL)
	assert.Equal(t, "./state", cfg.Runtime.StateDir)
	assert.Equal(t, 15, cfg.Runtime.HeartbeatIntervalSec)
	assert.Equal(t, 30, cfg.Runtime.PolicyRefreshIntervalSec)
	assert.Equal(t, 5, cfg.Runtime.FlushIntervalSec)
	assert.Equal(t, 5, cfg.Runtime.CollectionIntervalSec)
	assert.Equal(t, 100, cfg.Runtime.MaxBatchSize)
	assert.Equal(t, 50, cfg.Collectors.Processes.SnapshotLimit)
	assert.Equal(t, []string{"chrome", "edge", "firefox"}, cfg.Collectors.BrowserHistory.Browsers)
	assert.Equal(t, 120, cfg.Collectors.IdleTime.IdleThresholdSec)
	assert.InDelta(t, 85.0, cfg.Risk.LocalHighRiskThreshold, 0.001)
	assert.True(t, cfg.ProcessesEnabled())
	assert.True(t, cfg.AutoLockEnabled())
	assert.True(t, cfg.AllowUnsigned())
	assert.Equal(t, "127.0.0.1:9437", cfg.Diagnostics.ListenAddr)
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
agent:
  computer_id: 12
  user_id: 4
  version: "1.2.3"
  device_name: "WS-ACCOUNTING-04"
services:
  activity_service_url: "activity.internal:5001"
  agent_management_url: "mgmt.internal:5015"
runtime:
  state_dir: "/var/lib/fleetwatch"
  heartbeat_interval_sec: 30
  max_batch_size: 25
collectors:
  processes:
    enabled: false
    snapshot_limit: 10
  browser_history:
    browsers: ["firefox"]
  idle_time:
    idle_threshold_sec: 60
risk:
  local_high_risk_threshold: 70.5
  enable_auto_lock: false
security:
  control_plane_signing:
    secret: "hunter2"
    key_id: "k1"
    allow_unsigned: false
diagnostics:
  listen_addr: "127.0.0.1:9999"
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Agent.UserID)
	assert.Equal(t, int64(4), *cfg.Agent.UserID)
	assert.Equal(t, "WS-ACCOUNTING-04", cfg.Agent.DeviceName)
	assert.False(t, cfg.ProcessesEnabled())
	assert.True(t, cfg.BrowserHistoryEnabled())
	assert.Equal(t, []string{"firefox"}, cfg.Collectors.BrowserHistory.Browsers)
	assert.Equal(t, 60, cfg.Collectors.IdleTime.IdleThresholdSec)
	assert.False(t, cfg.AutoLockEnabled())
	assert.Equal(t, "hunter2", cfg.Security.ControlPlaneSigning.Secret)
	assert.Equal(t, "k1", cfg.Security.ControlPlaneSigning.KeyID)
	assert.False(t, cfg.AllowUnsigned())
	assert.Equal(t, 25, cfg.Runtime.MaxBatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
agent:
  computer_id: 7
  hostname: nope
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname")
}

func TestLoadRequiresComputerID(t *testing.T) {
	path := writeConfig(t, `
services:
  activity_service_url: "localhost:5001"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "computer_id")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvComputerID, "99")
	t.Setenv(EnvActivityURL, "override:5001")
	t.Setenv(EnvSigningSecret, "env-secret")
	t.Setenv(EnvAllowUnsigned, "false")

	path := writeConfig(t, `
agent:
  computer_id: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(99), cfg.Agent.ComputerID)
	assert.Equal(t, "override:5001", cfg.Services.ActivityServiceURL)
	assert.Equal(t, "env-secret", cfg.Security.ControlPlaneSigning.Secret)
	assert.False(t, cfg.AllowUnsigned())
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv(EnvComputerID, "not-a-number")
	t.Setenv(EnvAllowUnsigned, "sometimes")

	path := writeConfig(t, `
agent:
  computer_id: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Agent.ComputerID)
	assert.True(t, cfg.AllowUnsigned())
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := Default()
	cfg.Agent.ComputerID = 1
	cfg.Risk.LocalHighRiskThreshold = 250
	require.Error(t, cfg.Validate())
}
