package system

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/agent/internal/sysprobe"
)

type fakeProbe struct {
	caps sysprobe.Capabilities

	mu        sync.Mutex
	lockCalls int
	lockOK    bool
}

func (f *fakeProbe) Capabilities() sysprobe.Capabilities      { return f.caps }
func (f *fakeProbe) IdleTimeMS(context.Context) int64         { return 0 }
func (f *fakeProbe) ActiveWindowTitle(context.Context) string { return "" }
func (f *fakeProbe) Username() string                         { return "tester" }

func (f *fakeProbe) LockWorkstation(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls++
	return f.lockOK
}

func (f *fakeProbe) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockCalls
}

func lockCapable() *fakeProbe {
	return &fakeProbe{caps: sysprobe.Capabilities{Platform: "linux", Lock: true}, lockOK: true}
}

func TestApplySetsAndClears(t *testing.T) {
	ctx := context.Background()
	c := NewController(lockCapable())

	c.Apply(ctx, true, "manual review")
	assert.True(t, c.Active())
	assert.Equal(t, "manual review", c.Reason())

	c.Apply(ctx, false, "")
	assert.False(t, c.Active())
	assert.Empty(t, c.Reason())
}

func TestApplyDefaultReason(t *testing.T) {
	c := NewController(lockCapable())
	c.Apply(context.Background(), true, "")
	assert.Equal(t, "policy block", c.Reason())
}

func TestVirtualBlockWithoutCapability(t *testing.T) {
	probe := &fakeProbe{caps: sysprobe.Capabilities{Platform: "plan9"}}
	c := NewController(probe)

	for i := 0; i < 4; i++ {
		c.Apply(context.Background(), true, "audit")
	}

	assert.True(t, c.Active(), "virtual block state is kept")
	assert.Equal(t, 0, probe.calls(), "no OS lock without the capability")
}

func TestLockDebounce(t *testing.T) {
	probe := lockCapable()
	c := NewController(probe)

	for i := 0; i < 10; i++ {
		c.Apply(context.Background(), true, "burst")
	}

	assert.Equal(t, 1, probe.calls(), "one real attempt per debounce window")
	assert.True(t, c.Active())
}

func TestDebounceSurvivesClear(t *testing.T) {
	probe := lockCapable()
	c := NewController(probe)
	ctx := context.Background()

	c.Apply(ctx, true, "first")
	c.Apply(ctx, false, "")
	c.Apply(ctx, true, "second")

	assert.Equal(t, 1, probe.calls(), "clearing must not reset the debounce")
	assert.Equal(t, "second", c.Reason())
}

func TestSnapshot(t *testing.T) {
	c := NewController(lockCapable())
	c.Apply(context.Background(), true, "ревизия")

	s := c.Snapshot()
	assert.True(t, s.Active)
	assert.Equal(t, "ревизия", s.Reason)
}
