package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  computer_id: 7\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg Config) { reloaded <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("agent:\n  computer_id: 8\nlog_level: warn\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, int64(8), cfg.Agent.ComputerID)
		assert.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchKeepsOldConfigOnBadEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  computer_id: 7\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg Config) { reloaded <- cfg }))

	// Unknown key makes the strict decoder fail; the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  computer_id: 7\n  nope: 1\n"), 0o600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload with config %+v", cfg)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatchMissingFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Watch(ctx, filepath.Join(t.TempDir(), "missing.yaml"), func(Config) {})
	require.Error(t, err)
}
