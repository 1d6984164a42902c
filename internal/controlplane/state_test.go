package controlplane

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreRoundTrip(t *testing.T) {
	s := NewStateStore(t.TempDir())

	assert.Zero(t, s.Load(12), "missing file")

	require.NoError(t, s.Save(7, 12))
	assert.Equal(t, int64(7), s.Load(12))
	assert.FileExists(t, s.Path())
}

func TestStateStoreIgnoresForeignComputer(t *testing.T) {
	s := NewStateStore(t.TempDir())
	require.NoError(t, s.Save(7, 12))

	assert.Zero(t, s.Load(13), "state from another computer id is stale")
}

func TestStateStoreIgnoresCorruptFile(t *testing.T) {
	s := NewStateStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	assert.Zero(t, s.Load(12))
}

func TestStateStoreCreatesStateDir(t *testing.T) {
	s := NewStateStore(t.TempDir() + "/nested/state")
	require.NoError(t, s.Save(7, 12))
	assert.Equal(t, int64(7), s.Load(12))
}
