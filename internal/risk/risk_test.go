package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
)

func batch(scores ...float64) []event.ActivityEvent {
	out := make([]event.ActivityEvent, 0, len(scores))
	for _, s := range scores {
		out = append(out, event.ActivityEvent{ActivityType: event.TypeProcessSnapshot, RiskScore: s})
	}
	return out
}

func TestAdminBlockWins(t *testing.T) {
	pol := policy.Policy{policy.KeyAdminBlocked: true, policy.KeyBlockedReason: "manual review"}
	d := Evaluate(batch(0), pol, 85, true)
	assert.True(t, d.ShouldBlock)
	assert.Equal(t, "manual review", d.Reason)
}

func TestAdminBlockDefaultReason(t *testing.T) {
	pol := policy.Policy{policy.KeyAdminBlocked: true}
	d := Evaluate(nil, pol, 85, true)
	assert.True(t, d.ShouldBlock)
	assert.Equal(t, "admin block", d.Reason)

	// An empty reason string falls back the same way a missing one does.
	pol[policy.KeyBlockedReason] = ""
	d = Evaluate(nil, pol, 85, true)
	assert.Equal(t, "admin block", d.Reason)
}

func TestAutoLockDisabledIgnoresScores(t *testing.T) {
	pol := policy.Policy{policy.KeyAutoLockEnabled: false}
	d := Evaluate(batch(99, 100), pol, 85, true)
	assert.False(t, d.ShouldBlock)
	assert.Empty(t, d.Reason)
}

func TestThresholdTrips(t *testing.T) {
	d := Evaluate(batch(5, 90, 95), policy.Policy{}, 85, true)
	assert.True(t, d.ShouldBlock)
	assert.Contains(t, d.Reason, "PROCESS_SNAPSHOT")
	assert.Contains(t, d.Reason, "90")
	assert.Contains(t, d.Reason, "85")
}

func TestThresholdBoundaryInclusive(t *testing.T) {
	d := Evaluate(batch(85), policy.Policy{}, 85, true)
	assert.True(t, d.ShouldBlock)

	d = Evaluate(batch(84.9), policy.Policy{}, 85, true)
	assert.False(t, d.ShouldBlock)
}

func TestPolicyOverridesDefaults(t *testing.T) {
	pol := policy.Policy{policy.KeyHighRiskThreshold: 50.0}
	d := Evaluate(batch(60), pol, 85, true)
	assert.True(t, d.ShouldBlock)

	pol = policy.Policy{policy.KeyAutoLockEnabled: true}
	d = Evaluate(batch(90), pol, 85, false)
	assert.True(t, d.ShouldBlock, "policy auto_lock overrides the disabled default")
}

func TestEmptyBatch(t *testing.T) {
	d := Evaluate(nil, policy.Policy{}, 85, true)
	assert.False(t, d.ShouldBlock)
}
