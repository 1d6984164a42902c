package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
)

func TestProcessSnapshotDisabled(t *testing.T) {
	c := NewProcessSnapshot(12, nil)
	events, err := c.Collect(context.Background(), policy.Policy{policy.KeyEnableProcesses: false})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessSnapshotHonorsLimit(t *testing.T) {
	uid := int64(4)
	c := NewProcessSnapshot(12, &uid)
	pol := policy.Policy{policy.KeySnapshotLimit: 3}

	events, err := c.Collect(context.Background(), pol)
	require.NoError(t, err)
	require.NotEmpty(t, events, "the test process itself must show up")
	assert.LessOrEqual(t, len(events), 3)

	for _, e := range events {
		assert.Equal(t, event.TypeProcessSnapshot, e.ActivityType)
		assert.Equal(t, int64(12), e.ComputerID)
		assert.Contains(t, e.Details, "pid")
		assert.Contains(t, e.Details, "cmdline")
		assert.Equal(t, int64(4), e.Details["agent_user_id"])
		assert.Contains(t, []float64{processRiskBase, processRiskHigh}, e.RiskScore)
	}
}

func TestProcessEventsShareOneTimestamp(t *testing.T) {
	c := NewProcessSnapshot(12, nil)
	events, err := c.Collect(context.Background(), policy.Policy{policy.KeySnapshotLimit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	first := events[0].Timestamp
	for _, e := range events {
		assert.Equal(t, first, e.Timestamp)
	}
}

func TestSuspiciousProcessName(t *testing.T) {
	assert.True(t, suspiciousProcessName("XMRig-Miner.exe"))
	assert.True(t, suspiciousProcessName("mimikatz"))
	assert.True(t, suspiciousProcessName("qBittorrent"))
	assert.False(t, suspiciousProcessName("chrome"))
	assert.False(t, suspiciousProcessName(""))
}
