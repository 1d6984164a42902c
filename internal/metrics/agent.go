// Package metrics provides Prometheus metrics for the agent runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Label cardinality stays bounded: collector names, RPC method names and
// command types are small fixed sets; ids never become labels.

var (
	// Counters

	// EventsCollectedTotal counts events produced, by collector.
	EventsCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_events_collected_total",
		Help: "Total number of activity events produced, by collector.",
	}, []string{"collector"})

	// CollectorErrorsTotal counts collector failures that yielded an empty batch.
	CollectorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_collector_errors_total",
		Help: "Total number of collector errors, by collector.",
	}, []string{"collector"})

	// EventsEnqueuedTotal counts events appended to the offline queue.
	EventsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_enqueued_total",
		Help: "Total number of events appended to the offline queue.",
	})

	// EventsSentTotal counts events accepted by the activity sink.
	EventsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_sent_total",
		Help: "Total number of events accepted by the activity sink.",
	})

	// SendFailuresTotal counts activity deliveries that failed.
	SendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_send_failures_total",
		Help: "Total number of failed activity deliveries.",
	})

	// RPCFailuresTotal counts control-plane RPC failures by method.
	RPCFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_rpc_failures_total",
		Help: "Total number of failed control-plane RPCs, by method.",
	}, []string{"rpc"})

	// HeartbeatsTotal counts heartbeats by reported status.
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_heartbeats_total",
		Help: "Total number of heartbeats sent, by status.",
	}, []string{"status"})

	// PolicyUpdatesTotal counts accepted policy refreshes.
	PolicyUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_policy_updates_total",
		Help: "Total number of policies accepted from the control plane.",
	})

	// SignatureRejectionsTotal counts rejected control-plane payloads by kind.
	SignatureRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_signature_rejections_total",
		Help: "Total number of control-plane payloads rejected by signature verification, by kind.",
	}, []string{"kind"})

	// CommandsTotal counts processed commands by type and ack status.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_commands_total",
		Help: "Total number of control-plane commands processed, by type and ack status.",
	}, []string{"type", "status"})

	// LockAttemptsTotal counts real workstation lock invocations.
	LockAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_lock_attempts_total",
		Help: "Total number of real workstation lock invocations.",
	})

	// Gauges

	// QueueDepth tracks the current offline queue size.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_queue_depth",
		Help: "Current number of events waiting in the offline queue.",
	})

	// Online reports whether the last activity delivery or heartbeat succeeded.
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_online",
		Help: "1 when the agent considers the upstream reachable, else 0.",
	})
)

// RecordEventsCollected adds n to the per-collector event counter.
func RecordEventsCollected(collector string, n int) {
	EventsCollectedTotal.WithLabelValues(collector).Add(float64(n))
}

// RecordCollectorError increments the per-collector error counter.
func RecordCollectorError(collector string) {
	CollectorErrorsTotal.WithLabelValues(collector).Inc()
}

// RecordEnqueued adds n to the enqueued counter.
func RecordEnqueued(n int) {
	EventsEnqueuedTotal.Add(float64(n))
}

// RecordSent adds n to the sent counter.
func RecordSent(n int) {
	EventsSentTotal.Add(float64(n))
}

// RecordSendFailure increments the failed delivery counter.
func RecordSendFailure() {
	SendFailuresTotal.Inc()
}

// RecordRPCFailure increments the RPC failure counter for a method.
func RecordRPCFailure(rpc string) {
	RPCFailuresTotal.WithLabelValues(rpc).Inc()
}

// RecordHeartbeat increments the heartbeat counter for a status.
func RecordHeartbeat(status string) {
	HeartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordPolicyUpdate increments the accepted policy counter.
func RecordPolicyUpdate() {
	PolicyUpdatesTotal.Inc()
}

// RecordSignatureRejection increments the rejection counter for a kind
// ("policy" or "command").
func RecordSignatureRejection(kind string) {
	SignatureRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordCommand increments the command counter.
func RecordCommand(commandType, status string) {
	CommandsTotal.WithLabelValues(commandType, status).Inc()
}

// RecordLockAttempt increments the lock invocation counter.
func RecordLockAttempt() {
	LockAttemptsTotal.Inc()
}

// SetQueueDepth sets the queue depth gauge.
func SetQueueDepth(n int64) {
	QueueDepth.Set(float64(n))
}

// SetOnline sets the online gauge from a boolean.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}

// GetQueueDepth returns the current gauge value (for testing).
func GetQueueDepth() float64 {
	var m dto.Metric
	if err := QueueDepth.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// GetOnline returns the current online gauge value (for testing).
func GetOnline() float64 {
	var m dto.Metric
	if err := Online.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
