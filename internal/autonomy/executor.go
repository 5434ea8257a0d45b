// Package autonomy executes batches of already-decided agent actions
// against the ledger engines. Deciding what to do (the LLM loop) happens
// elsewhere; this layer only guarantees that one agent's failure never
// rolls back or blocks another agent's action.
package autonomy

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"city_go/internal/bounty"
	"city_go/internal/city"
	"city_go/internal/domain"
	"city_go/internal/economy"
	"city_go/internal/infra"
	"city_go/internal/market"
)

// Action kinds the executor understands.
const (
	ActionTransfer    = "transfer"
	ActionCreateOrder = "create_market_order"
	ActionAcceptOrder = "accept_market_order"
	ActionCancelOrder = "cancel_market_order"
	ActionClaimBounty = "claim_bounty"
	ActionEat         = "eat"
)

// Action is one decided step for one agent.
type Action struct {
	AgentID      int64
	Kind         string
	TargetID     int64           // order id, bounty id, or transfer recipient
	ResourceType string          // transfer / create_order sell type
	Amount       decimal.Decimal // transfer amount / sell amount
	BuyType      string
	BuyAmount    decimal.Decimal
	Ratio        decimal.Decimal // accept_order fill ratio
}

// Outcome reports one action's result.
type Outcome struct {
	Action Action
	Err    error
}

// BatchResult tallies a batch run.
type BatchResult struct {
	Succeeded int
	Failed    int
	Skipped   int
	Outcomes  []Outcome
}

// Executor dispatches actions to the engines.
type Executor struct {
	economy *economy.Economy
	market  *market.Engine
	bounty  *bounty.Engine
	city    *city.Service
}

func NewExecutor(eco *economy.Economy, mkt *market.Engine, bty *bounty.Engine, cty *city.Service) *Executor {
	return &Executor{economy: eco, market: mkt, bounty: bty, city: cty}
}

// ExecuteBatch runs every action to completion. Business failures are
// logged and counted; unknown kinds are skipped; the batch never aborts
// early. Cancellation is honored between actions only, since a started
// ledger operation is short and not cancellable.
func (x *Executor) ExecuteBatch(ctx context.Context, actions []Action) BatchResult {
	var result BatchResult
	for _, a := range actions {
		select {
		case <-ctx.Done():
			result.Skipped += len(actions) - len(result.Outcomes)
			return result
		default:
		}

		if !knownKind(a.Kind) {
			result.Skipped++
			result.Outcomes = append(result.Outcomes, Outcome{Action: a})
			slog.Warn("unknown action kind skipped",
				slog.Int64("agent_id", a.AgentID), slog.String("kind", a.Kind))
			continue
		}

		err := x.execute(a)
		result.Outcomes = append(result.Outcomes, Outcome{Action: a, Err: err})
		switch {
		case err == nil:
			result.Succeeded++
		case domain.IsBusiness(err):
			result.Failed++
			slog.Info("action failed",
				slog.Int64("agent_id", a.AgentID),
				slog.String("kind", a.Kind),
				slog.String("reason", domain.ReasonOf(err)))
		default:
			result.Failed++
			infra.GlobalMetrics.RecordError()
			slog.Error("action error",
				slog.Int64("agent_id", a.AgentID),
				slog.String("kind", a.Kind),
				slog.Any("error", err))
		}
	}
	return result
}

func (x *Executor) execute(a Action) error {
	switch a.Kind {
	case ActionTransfer:
		return x.city.Transfer(a.AgentID, a.TargetID, a.ResourceType, a.Amount)
	case ActionCreateOrder:
		_, err := x.market.CreateOrder(a.AgentID, a.ResourceType, a.Amount, a.BuyType, a.BuyAmount)
		return err
	case ActionAcceptOrder:
		ratio := a.Ratio
		if ratio.IsZero() {
			ratio = decimal.NewFromInt(1)
		}
		_, err := x.market.AcceptOrder(a.AgentID, a.TargetID, ratio)
		return err
	case ActionCancelOrder:
		return x.market.CancelOrder(a.AgentID, a.TargetID)
	case ActionClaimBounty:
		_, err := x.bounty.Claim(a.AgentID, a.TargetID)
		return err
	case ActionEat:
		_, err := x.city.EatFood(a.AgentID)
		return err
	}
	return nil
}

func knownKind(kind string) bool {
	switch kind {
	case ActionTransfer, ActionCreateOrder, ActionAcceptOrder, ActionCancelOrder, ActionClaimBounty, ActionEat:
		return true
	}
	return false
}
