package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/sysprobe"
)

func windowProbe(titles ...string) *stubProbe {
	return &stubProbe{
		caps:   sysprobe.Capabilities{Platform: "linux", ActiveWindow: true},
		titles: titles,
	}
}

func collectOnce(t *testing.T, c Collector, pol policy.Policy) []event.ActivityEvent {
	t.Helper()
	events, err := c.Collect(context.Background(), pol)
	require.NoError(t, err)
	return events
}

func TestActiveWindowTransitionsOnly(t *testing.T) {
	c := NewActiveWindow(12, nil, windowProbe("Editor", "Editor", "", "Browser"))
	pol := policy.Policy{}

	first := collectOnce(t, c, pol)
	require.Len(t, first, 1)
	assert.Equal(t, event.TypeActiveWindowChange, first[0].ActivityType)
	assert.Equal(t, "Editor", first[0].Details["window_title"])
	assert.InDelta(t, 1.0, first[0].RiskScore, 0.001)

	assert.Empty(t, collectOnce(t, c, pol), "same title again")
	assert.Empty(t, collectOnce(t, c, pol), "empty title")

	fourth := collectOnce(t, c, pol)
	require.Len(t, fourth, 1)
	assert.Equal(t, "Browser", fourth[0].Details["window_title"])
}

func TestActiveWindowNormalizesComposition(t *testing.T) {
	// "é" precomposed vs "e"+combining acute: same title after NFC.
	c := NewActiveWindow(12, nil, windowProbe("Café", "Café"))
	pol := policy.Policy{}

	require.Len(t, collectOnce(t, c, pol), 1)
	assert.Empty(t, collectOnce(t, c, pol), "recomposed title is not a transition")
}

func TestActiveWindowDisabledByPolicy(t *testing.T) {
	c := NewActiveWindow(12, nil, windowProbe("Editor"))
	events := collectOnce(t, c, policy.Policy{policy.KeyEnableActiveWindow: false})
	assert.Empty(t, events)
}

func TestActiveWindowWithoutCapability(t *testing.T) {
	probe := &stubProbe{caps: sysprobe.Capabilities{Platform: "plan9"}, titles: []string{"Editor"}}
	c := NewActiveWindow(12, nil, probe)

	assert.Empty(t, collectOnce(t, c, policy.Policy{}))
	assert.Empty(t, collectOnce(t, c, policy.Policy{}))
	assert.Equal(t, int64(0), probe.titleI.Load(), "probe is never consulted without the capability")
}
