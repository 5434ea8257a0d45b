package market

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"city_go/internal/domain"
	"city_go/internal/event"
	"city_go/internal/ledger"
)

func setupEngine(t *testing.T) (*Engine, *gorm.DB, *ledger.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Agent{}, &domain.ResourceBalance{}, &domain.MarketOrder{}, &domain.TradeLog{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	led := ledger.New()
	return New(db, led, event.NewBus()), db, led
}

func seedAgent(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	a := domain.Agent{Name: name}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("failed to seed agent: %v", err)
	}
	return a.ID
}

func give(t *testing.T, db *gorm.DB, led *ledger.Ledger, agentID int64, resource, amount string) {
	t.Helper()
	if err := led.Credit(db, agentID, resource, dec(amount)); err != nil {
		t.Fatalf("failed to credit %s %s to agent %d: %v", amount, resource, agentID, err)
	}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// totalOf sums quantity+frozen of one resource across all agents. Trades
// move resources around but never mint or burn them.
func totalOf(t *testing.T, db *gorm.DB, resource string) decimal.Decimal {
	t.Helper()
	var rows []domain.ResourceBalance
	if err := db.Where("resource_type = ?", resource).Find(&rows).Error; err != nil {
		t.Fatalf("failed to list balances: %v", err)
	}
	total := decimal.Zero
	for _, rb := range rows {
		total = total.Add(rb.Quantity).Add(rb.FrozenAmount)
	}
	return total
}

func TestCreateOrderFreezesStock(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	give(t, db, led, seller, "wheat", "20")

	order, err := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.Status != domain.OrderStatusOpen {
		t.Errorf("expected open, got %s", order.Status)
	}

	rb, _ := led.Get(db, seller, "wheat")
	if !rb.Quantity.Equal(dec("15")) || !rb.FrozenAmount.Equal(dec("5")) {
		t.Errorf("expected quantity 15 / frozen 5, got %s / %s", rb.Quantity, rb.FrozenAmount)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	give(t, db, led, seller, "wheat", "3")

	_, err := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if domain.KindOf(err) != domain.KindInsufficient {
		t.Fatalf("expected insufficient, got %v", err)
	}

	// The failed create must leave no order behind.
	var count int64
	db.Model(&domain.MarketOrder{}).Count(&count)
	if count != 0 {
		t.Errorf("failed create left %d orders", count)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	give(t, db, led, seller, "wheat", "20")

	if _, err := e.CreateOrder(seller, "wheat", dec("0"), "flour", dec("2")); domain.KindOf(err) != domain.KindInvalidAmount {
		t.Errorf("zero sell: expected invalid_amount, got %v", err)
	}
	if _, err := e.CreateOrder(seller, "wheat", dec("5"), "wheat", dec("2")); domain.KindOf(err) != domain.KindInvalidAmount {
		t.Errorf("same resource: expected invalid_amount, got %v", err)
	}
	if _, err := e.CreateOrder(999, "wheat", dec("5"), "flour", dec("2")); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("unknown seller: expected not_found, got %v", err)
	}
}

func TestAcceptOrderFullFill(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	give(t, db, led, seller, "wheat", "20")
	give(t, db, led, buyer, "flour", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	fill, err := e.AcceptOrder(buyer, order.ID, dec("1"))
	if err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if fill.OrderStatus != domain.OrderStatusFilled {
		t.Errorf("expected filled, got %s", fill.OrderStatus)
	}
	if !fill.TradeSell.Equal(dec("5")) || !fill.TradeBuy.Equal(dec("2")) {
		t.Errorf("unexpected fill amounts: %s / %s", fill.TradeSell, fill.TradeBuy)
	}

	sellerWheat, _ := led.Get(db, seller, "wheat")
	sellerFlour, _ := led.Get(db, seller, "flour")
	buyerWheat, _ := led.Get(db, buyer, "wheat")
	buyerFlour, _ := led.Get(db, buyer, "flour")

	if !sellerWheat.Quantity.Equal(dec("15")) || !sellerWheat.FrozenAmount.IsZero() {
		t.Errorf("seller wheat: %s / %s", sellerWheat.Quantity, sellerWheat.FrozenAmount)
	}
	if !sellerFlour.Quantity.Equal(dec("2")) {
		t.Errorf("seller flour: %s", sellerFlour.Quantity)
	}
	if !buyerWheat.Quantity.Equal(dec("5")) {
		t.Errorf("buyer wheat: %s", buyerWheat.Quantity)
	}
	if !buyerFlour.Quantity.Equal(dec("8")) {
		t.Errorf("buyer flour: %s", buyerFlour.Quantity)
	}

	if !totalOf(t, db, "wheat").Equal(dec("20")) || !totalOf(t, db, "flour").Equal(dec("10")) {
		t.Error("trade minted or burned resources")
	}

	var logs []domain.TradeLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("expected 1 trade log, got %d", len(logs))
	}
	if logs[0].SellerID != seller || logs[0].BuyerID != buyer {
		t.Errorf("trade log parties: %d/%d", logs[0].SellerID, logs[0].BuyerID)
	}
}

func TestAcceptOrderPartialFill(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	give(t, db, led, seller, "wheat", "10")
	give(t, db, led, buyer, "flour", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("10"), "flour", dec("4"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	fill, err := e.AcceptOrder(buyer, order.ID, dec("0.5"))
	if err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if fill.OrderStatus != domain.OrderStatusPartial {
		t.Errorf("expected partial, got %s", fill.OrderStatus)
	}
	if !fill.TradeSell.Equal(dec("5")) || !fill.TradeBuy.Equal(dec("2")) {
		t.Errorf("unexpected fill amounts: %s / %s", fill.TradeSell, fill.TradeBuy)
	}

	var ord domain.MarketOrder
	db.First(&ord, order.ID)
	if !ord.RemainSellAmount.Equal(dec("5")) || !ord.RemainBuyAmount.Equal(dec("2")) {
		t.Errorf("remainders: %s / %s", ord.RemainSellAmount, ord.RemainBuyAmount)
	}

	// A second half-fill of the remainder completes the order.
	fill2, err := e.AcceptOrder(buyer, order.ID, dec("1"))
	if err != nil {
		t.Fatalf("second AcceptOrder failed: %v", err)
	}
	if fill2.OrderStatus != domain.OrderStatusFilled {
		t.Errorf("expected filled, got %s", fill2.OrderStatus)
	}
	if !totalOf(t, db, "wheat").Equal(dec("10")) {
		t.Error("partial fills minted or burned wheat")
	}
}

func TestAcceptOrderEpsilonResidueCompletes(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	give(t, db, led, seller, "wheat", "10")
	give(t, db, led, buyer, "flour", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("10"), "flour", dec("4"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// 0.999 of the buy side rounds 3.996 up to 4.00: the buy remainder
	// hits zero while 0.01 wheat is still outstanding. The near-zero
	// residue forces the order to filled instead of a dust partial.
	fill, err := e.AcceptOrder(buyer, order.ID, dec("0.999"))
	if err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if fill.OrderStatus != domain.OrderStatusFilled {
		t.Errorf("expected near-total fill to complete the order, got %s", fill.OrderStatus)
	}

	var ord domain.MarketOrder
	db.First(&ord, order.ID)
	if !ord.RemainSellAmount.IsZero() || !ord.RemainBuyAmount.IsZero() {
		t.Errorf("remainders not zeroed: %s / %s", ord.RemainSellAmount, ord.RemainBuyAmount)
	}
}

func TestAcceptOrderRejections(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	broke := seedAgent(t, db, "broke")
	give(t, db, led, seller, "wheat", "10")
	give(t, db, led, buyer, "flour", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if _, err := e.AcceptOrder(seller, order.ID, dec("1")); domain.KindOf(err) != domain.KindNotOwner {
		t.Errorf("own order: expected not_owner, got %v", err)
	}
	if _, err := e.AcceptOrder(buyer, order.ID, dec("1.5")); domain.KindOf(err) != domain.KindInvalidAmount {
		t.Errorf("ratio > 1: expected invalid_amount, got %v", err)
	}
	if _, err := e.AcceptOrder(buyer, 999, dec("1")); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("unknown order: expected not_found, got %v", err)
	}
	if _, err := e.AcceptOrder(broke, order.ID, dec("1")); domain.KindOf(err) != domain.KindInsufficient {
		t.Errorf("broke buyer: expected insufficient, got %v", err)
	}

	// Fill it, then accepting again is an invalid state.
	if _, err := e.AcceptOrder(buyer, order.ID, dec("1")); err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if _, err := e.AcceptOrder(buyer, order.ID, dec("1")); domain.KindOf(err) != domain.KindInvalidState {
		t.Errorf("filled order: expected invalid_state, got %v", err)
	}
}

func TestCancelOrderReturnsStock(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	give(t, db, led, seller, "wheat", "10")
	give(t, db, led, buyer, "flour", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("10"), "flour", dec("4"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Partial fill first, then cancel the rest.
	if _, err := e.AcceptOrder(buyer, order.ID, dec("0.5")); err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if err := e.CancelOrder(seller, order.ID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	rb, _ := led.Get(db, seller, "wheat")
	if !rb.Quantity.Equal(dec("5")) || !rb.FrozenAmount.IsZero() {
		t.Errorf("expected quantity 5 / frozen 0 after cancel, got %s / %s", rb.Quantity, rb.FrozenAmount)
	}

	var ord domain.MarketOrder
	db.First(&ord, order.ID)
	if ord.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", ord.Status)
	}
	if !ord.RemainSellAmount.IsZero() || !ord.RemainBuyAmount.IsZero() {
		t.Errorf("remainders not zeroed: %s / %s", ord.RemainSellAmount, ord.RemainBuyAmount)
	}
}

func TestCancelOrderRejections(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	other := seedAgent(t, db, "other")
	give(t, db, led, seller, "wheat", "10")

	order, err := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := e.CancelOrder(other, order.ID); domain.KindOf(err) != domain.KindNotOwner {
		t.Errorf("foreign cancel: expected not_owner, got %v", err)
	}
	if err := e.CancelOrder(seller, 999); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("unknown order: expected not_found, got %v", err)
	}

	if err := e.CancelOrder(seller, order.ID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if err := e.CancelOrder(seller, order.ID); domain.KindOf(err) != domain.KindInvalidState {
		t.Errorf("double cancel: expected invalid_state, got %v", err)
	}
}

func TestListOrdersDefaultsToFillable(t *testing.T) {
	e, db, led := setupEngine(t)
	seller := seedAgent(t, db, "seller")
	give(t, db, led, seller, "wheat", "30")

	o1, _ := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	o2, _ := e.CreateOrder(seller, "wheat", dec("5"), "flour", dec("2"))
	if err := e.CancelOrder(seller, o1.ID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	orders, err := e.ListOrders(nil)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != o2.ID {
		t.Errorf("expected only the open order, got %+v", orders)
	}

	cancelled, err := e.ListOrders([]string{domain.OrderStatusCancelled})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != o1.ID {
		t.Errorf("expected only the cancelled order, got %+v", cancelled)
	}
}
