// Package event carries post-commit notifications from the ledger
// engines to the broadcast layer. Delivery is best-effort: an event that
// cannot be handed off is dropped and logged, never retried or rolled
// back, so broadcast failures cannot affect ledger correctness.
package event

import "time"

// Event names emitted by the engines.
const (
	OrderCreated        = "order_created"
	OrderTraded         = "order_traded"
	OrderCancelled      = "order_cancelled"
	ResourceTransferred = "resource_transferred"
	BountyClaimed       = "bounty_claimed"
	AgentAte            = "agent_ate"
	ProductionSettled   = "production_settled"
	WorkerAssigned      = "worker_assigned"
	WorkerUnassigned    = "worker_unassigned"
	AttributeChanged    = "attribute_changed"
)

// Event is a flat name plus the relevant ids/amounts.
type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// New stamps an event with the current time.
func New(name string, data map[string]any) Event {
	return Event{Name: name, Timestamp: time.Now().UTC(), Data: data}
}
