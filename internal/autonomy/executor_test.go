package autonomy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"city_go/internal/bounty"
	"city_go/internal/city"
	"city_go/internal/domain"
	"city_go/internal/economy"
	"city_go/internal/event"
	"city_go/internal/ledger"
	"city_go/internal/market"
)

func setupExecutor(t *testing.T) (*Executor, *gorm.DB, *ledger.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(domain.AllModels()...); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	bus := event.NewBus()
	led := ledger.New()
	x := NewExecutor(
		economy.New(db),
		market.New(db, led, bus),
		bounty.New(db, bus),
		city.New(db, led, bus),
	)
	return x, db, led
}

func seedAgent(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	a := domain.Agent{Name: name}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("failed to seed agent: %v", err)
	}
	return a.ID
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	x, db, led := setupExecutor(t)
	alice := seedAgent(t, db, "alice")
	bob := seedAgent(t, db, "bob")
	if err := led.Credit(db, alice, "wheat", dec("10")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	actions := []Action{
		// Succeeds.
		{AgentID: alice, Kind: ActionTransfer, TargetID: bob, ResourceType: "wheat", Amount: dec("3")},
		// Business failure: bob has no wheat to cover this.
		{AgentID: bob, Kind: ActionTransfer, TargetID: alice, ResourceType: "wheat", Amount: dec("100")},
		// Unknown kind: skipped, not failed.
		{AgentID: alice, Kind: "sing_a_song"},
		// Succeeds despite the failures before it.
		{AgentID: alice, Kind: ActionTransfer, TargetID: bob, ResourceType: "wheat", Amount: dec("2")},
	}

	result := x.ExecuteBatch(context.Background(), actions)
	if result.Succeeded != 2 || result.Failed != 1 || result.Skipped != 1 {
		t.Errorf("got succeeded=%d failed=%d skipped=%d", result.Succeeded, result.Failed, result.Skipped)
	}
	if len(result.Outcomes) != 4 {
		t.Errorf("expected 4 outcomes, got %d", len(result.Outcomes))
	}

	// Both successful transfers landed.
	rb, _ := led.Get(db, bob, "wheat")
	if !rb.Quantity.Equal(dec("5")) {
		t.Errorf("expected bob to hold 5 wheat, got %s", rb.Quantity)
	}
}

func TestExecuteBatchDispatch(t *testing.T) {
	x, db, led := setupExecutor(t)
	seller := seedAgent(t, db, "seller")
	buyer := seedAgent(t, db, "buyer")
	if err := led.Credit(db, seller, "wheat", dec("10")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := led.Credit(db, buyer, "flour", dec("10")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	result := x.ExecuteBatch(context.Background(), []Action{
		{AgentID: seller, Kind: ActionCreateOrder, ResourceType: "wheat", Amount: dec("5"), BuyType: "flour", BuyAmount: dec("2")},
	})
	if result.Succeeded != 1 {
		t.Fatalf("create order action failed: %+v", result.Outcomes)
	}

	var ord domain.MarketOrder
	if err := db.First(&ord).Error; err != nil {
		t.Fatalf("no order created: %v", err)
	}

	// Ratio zero defaults to a full fill.
	result = x.ExecuteBatch(context.Background(), []Action{
		{AgentID: buyer, Kind: ActionAcceptOrder, TargetID: ord.ID},
	})
	if result.Succeeded != 1 {
		t.Fatalf("accept order action failed: %+v", result.Outcomes)
	}

	db.First(&ord, ord.ID)
	if ord.Status != domain.OrderStatusFilled {
		t.Errorf("expected filled, got %s", ord.Status)
	}
}

func TestExecuteBatchHonorsCancellation(t *testing.T) {
	x, db, led := setupExecutor(t)
	alice := seedAgent(t, db, "alice")
	bob := seedAgent(t, db, "bob")
	if err := led.Credit(db, alice, "wheat", dec("10")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := x.ExecuteBatch(ctx, []Action{
		{AgentID: alice, Kind: ActionTransfer, TargetID: bob, ResourceType: "wheat", Amount: dec("1")},
		{AgentID: alice, Kind: ActionTransfer, TargetID: bob, ResourceType: "wheat", Amount: dec("1")},
	})
	if result.Succeeded != 0 || result.Skipped != 2 {
		t.Errorf("cancelled batch ran anyway: %+v", result)
	}

	rb, _ := led.Get(db, bob, "wheat")
	if !rb.Quantity.IsZero() {
		t.Errorf("cancelled batch moved resources: %s", rb.Quantity)
	}
}
