package controlplane

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/agent/internal/rpc"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestCanonicalPolicyPayload(t *testing.T) {
	p := &rpc.AgentPolicy{
		ID:                           3,
		AgentID:                      7,
		ComputerID:                   12,
		PolicyVersion:                "9",
		CollectionIntervalSec:        5,
		HeartbeatIntervalSec:         15,
		FlushIntervalSec:             5,
		EnableProcessCollection:      true,
		EnableBrowserCollection:      false,
		EnableActiveWindowCollection: true,
		EnableIdleCollection:         true,
		IdleThresholdSec:             120,
		BrowserPollIntervalSec:       10,
		ProcessSnapshotLimit:         50,
		HighRiskThreshold:            85.0,
		AutoLockEnabled:              true,
		AdminBlocked:                 false,
		BlockedReason:                "",
		UpdatedAt:                    "2025-06-01T12:00:00.000Z",
		Browsers:                     []string{"chrome", "firefox"},
	}

	want := strings.Join([]string{
		"kind=" + b64("policy"),
		"id=3",
		"agent_id=7",
		"computer_id=12",
		"policy_version=" + b64("9"),
		"collection_interval_sec=5",
		"heartbeat_interval_sec=15",
		"flush_interval_sec=5",
		"enable_process_collection=1",
		"enable_browser_collection=0",
		"enable_active_window_collection=1",
		"enable_idle_collection=1",
		"idle_threshold_sec=120",
		"browser_poll_interval_sec=10",
		"process_snapshot_limit=50",
		"high_risk_threshold_f32bits=1118437376",
		"auto_lock_enabled=1",
		"admin_blocked=0",
		"blocked_reason=",
		"updated_at=" + b64("2025-06-01T12:00:00.000Z"),
		"browsers_count=2",
		"browsers_0=" + b64("chrome"),
		"browsers_1=" + b64("firefox"),
	}, "\n") + "\n"

	got := string(canonicalPolicyPayload(p))
	assert.Equal(t, want, got)

	// Both sides must agree on these exact renderings.
	assert.True(t, strings.HasPrefix(got, "kind=cG9saWN5\n"))
	assert.Contains(t, got, "high_risk_threshold_f32bits=1118437376\n")
}

func TestCanonicalPolicyPayloadZeroValue(t *testing.T) {
	got := string(canonicalPolicyPayload(&rpc.AgentPolicy{}))

	assert.Contains(t, got, "\nid=0\n")
	assert.Contains(t, got, "\npolicy_version=\n")
	assert.Contains(t, got, "\nhigh_risk_threshold_f32bits=0\n")
	assert.Contains(t, got, "\nbrowsers_count=0\n")
	assert.NotContains(t, got, "browsers_0")
	assert.True(t, strings.HasSuffix(got, "\n"))
}

func TestCanonicalCommandPayload(t *testing.T) {
	cmd := &rpc.AgentCommand{
		ID:          41,
		AgentID:     7,
		Type:        "BLOCK_WORKSTATION",
		PayloadJSON: `{"reason":"audit"}`,
		Status:      "pending",
		RequestedBy: "оператор",
		CreatedAt:   "2025-06-01T12:00:00.000Z",
	}

	want := strings.Join([]string{
		"kind=" + b64("command"),
		"id=41",
		"agent_id=7",
		"type=" + b64("BLOCK_WORKSTATION"),
		"payload_json=" + b64(`{"reason":"audit"}`),
		"status=" + b64("pending"),
		"requested_by=" + b64("оператор"),
		"result_message=",
		"created_at=" + b64("2025-06-01T12:00:00.000Z"),
		"acknowledged_at=",
	}, "\n") + "\n"

	got := string(canonicalCommandPayload(cmd))
	assert.Equal(t, want, got)
	assert.True(t, strings.HasPrefix(got, "kind=Y29tbWFuZA==\n"))
}
