package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestQueueDepthGauge(t *testing.T) {
	SetQueueDepth(17)
	assert.InDelta(t, 17.0, GetQueueDepth(), 0.001)
	SetQueueDepth(0)
	assert.InDelta(t, 0.0, GetQueueDepth(), 0.001)
}

func TestOnlineGauge(t *testing.T) {
	SetOnline(true)
	assert.InDelta(t, 1.0, GetOnline(), 0.001)
	SetOnline(false)
	assert.InDelta(t, 0.0, GetOnline(), 0.001)
}

func TestCounters(t *testing.T) {
	before := counterValue(t, EventsCollectedTotal.WithLabelValues("processes"))
	RecordEventsCollected("processes", 5)
	assert.InDelta(t, before+5, counterValue(t, EventsCollectedTotal.WithLabelValues("processes")), 0.001)

	beforeSig := counterValue(t, SignatureRejectionsTotal.WithLabelValues("policy"))
	RecordSignatureRejection("policy")
	assert.InDelta(t, beforeSig+1, counterValue(t, SignatureRejectionsTotal.WithLabelValues("policy")), 0.001)

	beforeCmd := counterValue(t, CommandsTotal.WithLabelValues("BLOCK_WORKSTATION", "success"))
	RecordCommand("BLOCK_WORKSTATION", "success")
	assert.InDelta(t, beforeCmd+1, counterValue(t, CommandsTotal.WithLabelValues("BLOCK_WORKSTATION", "success")), 0.001)
}
