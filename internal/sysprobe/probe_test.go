package sysprobe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesMapKeys(t *testing.T) {
	caps := Capabilities{Platform: "linux", IdleTime: true, Lock: true}
	m := caps.Map()
	assert.Equal(t, "linux", m["platform"])
	assert.Equal(t, true, m["idle_time_ms"])
	assert.Equal(t, false, m["active_window_title"])
	assert.Equal(t, true, m["lock_workstation"])
}

func TestSystemCapabilitiesStable(t *testing.T) {
	p := System()
	first := p.Capabilities()
	second := p.Capabilities()
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Platform)
}

func TestIdleTimeNeverNegative(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.GreaterOrEqual(t, System().IdleTimeMS(ctx), int64(0))
}

func TestUsernameFallsBack(t *testing.T) {
	t.Setenv("USERNAME", "")
	t.Setenv("USER", "")
	assert.Equal(t, "unknown", System().Username())

	t.Setenv("USER", "svc-fleetwatch")
	assert.Equal(t, "svc-fleetwatch", System().Username())

	t.Setenv("USERNAME", "corp\\svc")
	assert.Equal(t, "corp\\svc", System().Username())
}
