package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Bus
	eventsPublished  atomic.Uint64
	eventsUndeliv    atomic.Uint64 // published with no subscribers
	deliveriesDrop   atomic.Uint64 // subscriber inbox full
	handlerFailures  atomic.Uint64
	handlerOverruns  atomic.Uint64 // exceeded dispatch budget
	handlerLatencyNs atomic.Int64
	handlerCount     atomic.Uint64

	// Queue
	queuePushes atomic.Uint64
	queuePops   atomic.Uint64
	queueErrors atomic.Uint64

	// Decisions
	verdictsAccept atomic.Uint64
	verdictsReject atomic.Uint64
	verdictsHold   atomic.Uint64
	settlements    atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

func (m *Metrics) RecordPublish()     { m.eventsPublished.Add(1) }
func (m *Metrics) RecordUndelivered() { m.eventsUndeliv.Add(1) }
func (m *Metrics) RecordDropped()     { m.deliveriesDrop.Add(1) }
func (m *Metrics) RecordOverrun()     { m.handlerOverruns.Add(1) }
func (m *Metrics) RecordSettlement()  { m.settlements.Add(1) }

// RecordHandler records one handler invocation with latency and outcome.
func (m *Metrics) RecordHandler(latencyNs int64, failed bool) {
	m.handlerLatencyNs.Add(latencyNs)
	m.handlerCount.Add(1)
	if failed {
		m.handlerFailures.Add(1)
	}
}

// RecordQueue records a queue operation. op is "push" or "pop".
func (m *Metrics) RecordQueue(op string, err error) {
	if err != nil {
		m.queueErrors.Add(1)
		return
	}
	switch op {
	case "push":
		m.queuePushes.Add(1)
	case "pop":
		m.queuePops.Add(1)
	}
}

// RecordVerdict counts a verdict by kind.
func (m *Metrics) RecordVerdict(verdict string) {
	switch verdict {
	case "ACCEPT":
		m.verdictsAccept.Add(1)
	case "REJECT":
		m.verdictsReject.Add(1)
	case "HOLD":
		m.verdictsHold.Add(1)
	}
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsPublished   uint64    `json:"events_published"`
	EventsUndelivered uint64    `json:"events_undelivered"`
	DeliveriesDropped uint64    `json:"deliveries_dropped"`
	HandlerFailures   uint64    `json:"handler_failures"`
	HandlerOverruns   uint64    `json:"handler_overruns"`
	AvgHandlerNs      int64     `json:"avg_handler_ns"`
	QueuePushes       uint64    `json:"queue_pushes"`
	QueuePops         uint64    `json:"queue_pops"`
	QueueErrors       uint64    `json:"queue_errors"`
	VerdictsAccept    uint64    `json:"verdicts_accept"`
	VerdictsReject    uint64    `json:"verdicts_reject"`
	VerdictsHold      uint64    `json:"verdicts_hold"`
	Settlements       uint64    `json:"settlements"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	if count := m.handlerCount.Load(); count > 0 {
		avg = m.handlerLatencyNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsPublished:   m.eventsPublished.Load(),
		EventsUndelivered: m.eventsUndeliv.Load(),
		DeliveriesDropped: m.deliveriesDrop.Load(),
		HandlerFailures:   m.handlerFailures.Load(),
		HandlerOverruns:   m.handlerOverruns.Load(),
		AvgHandlerNs:      avg,
		QueuePushes:       m.queuePushes.Load(),
		QueuePops:         m.queuePops.Load(),
		QueueErrors:       m.queueErrors.Load(),
		VerdictsAccept:    m.verdictsAccept.Load(),
		VerdictsReject:    m.verdictsReject.Load(),
		VerdictsHold:      m.verdictsHold.Load(),
		Settlements:       m.settlements.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	*m = Metrics{}
}
