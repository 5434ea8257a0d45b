// Package market implements the resource-swap order book. Sell stock is
// frozen at creation time, so a seller can never oversell what they no
// longer hold by the time a buyer accepts. Fills serialize on the order
// row only; unrelated orders proceed in parallel.
package market

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"city_go/internal/domain"
	"city_go/internal/event"
	"city_go/internal/infra"
	"city_go/internal/ledger"
)

// fillPrecision is the decimal precision of a fill; remainders below
// fillEpsilon are forced to zero and the order flips to filled.
const fillPrecision int32 = 2

var fillEpsilon = decimal.NewFromFloat(0.01)

// Engine is the order book. One instance per process.
type Engine struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	bus    *event.Bus
}

func New(db *gorm.DB, led *ledger.Ledger, bus *event.Bus) *Engine {
	return &Engine{db: db, ledger: led, bus: bus}
}

// Fill reports one accepted trade.
type Fill struct {
	OrderID     int64           `json:"order_id"`
	TradeSell   decimal.Decimal `json:"trade_sell"`
	TradeBuy    decimal.Decimal `json:"trade_buy"`
	OrderStatus string          `json:"order_status"`
}

// CreateOrder freezes sellAmount of sellType from the seller and opens
// the order. Nothing is inserted when the freeze fails.
func (e *Engine) CreateOrder(sellerID int64, sellType string, sellAmount decimal.Decimal, buyType string, buyAmount decimal.Decimal) (*domain.MarketOrder, error) {
	if !sellAmount.IsPositive() || !buyAmount.IsPositive() {
		return nil, domain.NewOpError(domain.KindInvalidAmount, "amounts must be greater than 0")
	}
	if sellType == buyType {
		return nil, domain.NewOpError(domain.KindInvalidAmount, "cannot swap a resource for itself")
	}

	var order domain.MarketOrder
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := agentExists(tx, sellerID); err != nil {
			return err
		}
		if err := e.ledger.Freeze(tx, sellerID, sellType, sellAmount); err != nil {
			return err
		}
		order = domain.MarketOrder{
			SellerID:         sellerID,
			SellType:         sellType,
			SellAmount:       sellAmount,
			BuyType:          buyType,
			BuyAmount:        buyAmount,
			RemainSellAmount: sellAmount,
			RemainBuyAmount:  buyAmount,
			Status:           domain.OrderStatusOpen,
		}
		return tx.Create(&order).Error
	})
	if err != nil {
		return nil, err
	}

	infra.GlobalMetrics.RecordOrderCreated()
	e.bus.Publish(event.New(event.OrderCreated, map[string]any{
		"order_id":    order.ID,
		"seller_id":   sellerID,
		"sell_type":   sellType,
		"sell_amount": sellAmount,
		"buy_type":    buyType,
		"buy_amount":  buyAmount,
	}))
	return &order, nil
}

// AcceptOrder fills ratio of the order's remainders. The order row is
// the only serialization point: it is locked for the whole fill, the
// four balance moves land in the same transaction, and the final status
// write re-checks the open/partial state.
func (e *Engine) AcceptOrder(buyerID, orderID int64, ratio decimal.Decimal) (*Fill, error) {
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, domain.NewOpError(domain.KindInvalidAmount, "ratio must be in (0, 1]")
	}

	var fill Fill
	var ord domain.MarketOrder
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := agentExists(tx, buyerID); err != nil {
			return err
		}
		if err := lockForUpdate(tx).First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "order %d not found", orderID)
			}
			return err
		}
		if !ord.IsOpen() {
			return domain.NewOpError(domain.KindInvalidState, "order is %s, not open", ord.Status)
		}
		if ord.SellerID == buyerID {
			return domain.NewOpError(domain.KindNotOwner, "cannot accept own order")
		}

		tradeSell := ord.RemainSellAmount.Mul(ratio).Round(fillPrecision)
		tradeBuy := ord.RemainBuyAmount.Mul(ratio).Round(fillPrecision)
		if !tradeSell.IsPositive() || !tradeBuy.IsPositive() {
			return domain.NewOpError(domain.KindInvalidAmount, "trade amount too small")
		}

		buyerRes, err := e.ledger.GetOrCreate(tx, buyerID, ord.BuyType)
		if err != nil {
			return err
		}
		if buyerRes.Available().LessThan(tradeBuy) {
			return domain.NewOpError(domain.KindInsufficient,
				"%s available %s, need %s", ord.BuyType, buyerRes.Available(), tradeBuy)
		}

		// Four-way swap. Previously frozen stock leaves the seller via
		// the trade; it never returns to quantity.
		if err := e.ledger.ReleaseFrozen(tx, ord.SellerID, ord.SellType, tradeSell); err != nil {
			return err
		}
		if err := e.ledger.Credit(tx, buyerID, ord.SellType, tradeSell); err != nil {
			return err
		}
		if err := e.ledger.Debit(tx, buyerID, ord.BuyType, tradeBuy); err != nil {
			return err
		}
		if err := e.ledger.Credit(tx, ord.SellerID, ord.BuyType, tradeBuy); err != nil {
			return err
		}

		remainSell := ord.RemainSellAmount.Sub(tradeSell).Round(fillPrecision)
		remainBuy := ord.RemainBuyAmount.Sub(tradeBuy).Round(fillPrecision)
		status := domain.OrderStatusPartial
		if remainSell.LessThan(fillEpsilon) || remainBuy.LessThan(fillEpsilon) {
			// Near-zero residue is forced to exactly zero.
			remainSell = decimal.Zero
			remainBuy = decimal.Zero
			status = domain.OrderStatusFilled
		}

		res := tx.Model(&domain.MarketOrder{}).
			Where("id = ? AND status IN ?", ord.ID, []string{domain.OrderStatusOpen, domain.OrderStatusPartial}).
			Updates(map[string]any{
				"remain_sell_amount": remainSell,
				"remain_buy_amount":  remainBuy,
				"status":             status,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}

		log := domain.TradeLog{
			OrderID:    ord.ID,
			SellerID:   ord.SellerID,
			BuyerID:    buyerID,
			SellType:   ord.SellType,
			SellAmount: tradeSell,
			BuyType:    ord.BuyType,
			BuyAmount:  tradeBuy,
		}
		if err := tx.Create(&log).Error; err != nil {
			return err
		}

		fill = Fill{OrderID: ord.ID, TradeSell: tradeSell, TradeBuy: tradeBuy, OrderStatus: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	infra.GlobalMetrics.RecordTrade()
	if fill.OrderStatus == domain.OrderStatusFilled {
		infra.GlobalMetrics.RecordOrderFilled()
	}
	e.bus.Publish(event.New(event.OrderTraded, map[string]any{
		"order_id":    ord.ID,
		"seller_id":   ord.SellerID,
		"buyer_id":    buyerID,
		"sell_type":   ord.SellType,
		"sell_amount": fill.TradeSell,
		"buy_type":    ord.BuyType,
		"buy_amount":  fill.TradeBuy,
	}))
	return &fill, nil
}

// CancelOrder returns the remaining frozen stock to the seller's
// spendable quantity and terminates the order.
func (e *Engine) CancelOrder(sellerID, orderID int64) error {
	var ord domain.MarketOrder
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "order %d not found", orderID)
			}
			return err
		}
		if ord.SellerID != sellerID {
			return domain.NewOpError(domain.KindNotOwner, "only the seller can cancel this order")
		}
		if !ord.IsOpen() {
			return domain.NewOpError(domain.KindInvalidState, "order is %s, not cancellable", ord.Status)
		}

		if ord.RemainSellAmount.IsPositive() {
			if err := e.ledger.ReleaseFrozen(tx, sellerID, ord.SellType, ord.RemainSellAmount); err != nil {
				return err
			}
			if err := e.ledger.Credit(tx, sellerID, ord.SellType, ord.RemainSellAmount); err != nil {
				return err
			}
		}

		res := tx.Model(&domain.MarketOrder{}).
			Where("id = ? AND status IN ?", ord.ID, []string{domain.OrderStatusOpen, domain.OrderStatusPartial}).
			Updates(map[string]any{
				"remain_sell_amount": decimal.Zero,
				"remain_buy_amount":  decimal.Zero,
				"status":             domain.OrderStatusCancelled,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.bus.Publish(event.New(event.OrderCancelled, map[string]any{
		"order_id":  orderID,
		"seller_id": sellerID,
	}))
	return nil
}

// ListOrders returns orders newest first, defaulting to the fillable ones.
func (e *Engine) ListOrders(statuses []string) ([]domain.MarketOrder, error) {
	if len(statuses) == 0 {
		statuses = []string{domain.OrderStatusOpen, domain.OrderStatusPartial}
	}
	var orders []domain.MarketOrder
	err := e.db.Where("status IN ?", statuses).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	return orders, err
}

// TradeLogs returns fills newest first.
func (e *Engine) TradeLogs(limit, offset int) ([]domain.TradeLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []domain.TradeLog
	err := e.db.Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&logs).Error
	return logs, err
}

// lockForUpdate takes the exclusive row lock where the dialect supports
// it. SQLite has no FOR UPDATE; its single-writer transaction already
// serializes the fill.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func agentExists(tx *gorm.DB, agentID int64) error {
	var agent domain.Agent
	if err := tx.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
		}
		return err
	}
	return nil
}
