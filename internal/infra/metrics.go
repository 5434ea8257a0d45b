package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	ordersCreated   atomic.Uint64
	ordersFilled    atomic.Uint64
	tradesExecuted  atomic.Uint64
	bountiesClaimed atomic.Uint64
	transfersDone   atomic.Uint64
	errorsTotal     atomic.Uint64
	eventsDropped   atomic.Uint64

	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordOrderCreated records a new market order.
func (m *Metrics) RecordOrderCreated() { m.ordersCreated.Add(1) }

// RecordOrderFilled records an order that reached the filled state.
func (m *Metrics) RecordOrderFilled() { m.ordersFilled.Add(1) }

// RecordTrade records one fill, partial or full.
func (m *Metrics) RecordTrade() { m.tradesExecuted.Add(1) }

// RecordBountyClaimed records a successful bounty claim.
func (m *Metrics) RecordBountyClaimed() { m.bountiesClaimed.Add(1) }

// RecordTransfer records a peer-to-peer resource transfer.
func (m *Metrics) RecordTransfer() { m.transfersDone.Add(1) }

// RecordError records an unexpected (non-business) failure.
func (m *Metrics) RecordError() { m.errorsTotal.Add(1) }

// RecordEventDropped records a broadcast event lost to a full buffer.
func (m *Metrics) RecordEventDropped() { m.eventsDropped.Add(1) }

// IncrementConnections increments active websocket connections by 1.
func (m *Metrics) IncrementConnections() { m.activeConnections.Add(1) }

// DecrementConnections decrements active websocket connections by 1.
func (m *Metrics) DecrementConnections() { m.activeConnections.Add(-1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersCreated     uint64    `json:"orders_created"`
	OrdersFilled      uint64    `json:"orders_filled"`
	TradesExecuted    uint64    `json:"trades_executed"`
	BountiesClaimed   uint64    `json:"bounties_claimed"`
	TransfersDone     uint64    `json:"transfers_done"`
	ErrorsTotal       uint64    `json:"errors_total"`
	EventsDropped     uint64    `json:"events_dropped"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		OrdersCreated:     m.ordersCreated.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		TradesExecuted:    m.tradesExecuted.Load(),
		BountiesClaimed:   m.bountiesClaimed.Load(),
		TransfersDone:     m.transfersDone.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		EventsDropped:     m.eventsDropped.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersCreated.Store(0)
	m.ordersFilled.Store(0)
	m.tradesExecuted.Store(0)
	m.bountiesClaimed.Store(0)
	m.transfersDone.Store(0)
	m.errorsTotal.Store(0)
	m.eventsDropped.Store(0)
	m.activeConnections.Store(0)
}
