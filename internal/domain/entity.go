package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HumanID is the reserved agent id for the human participant.
// The human never pays quota or credits to speak.
const HumanID int64 = 0

const (
	AgentStatusIdle     = "idle"
	AgentStatusChatting = "chatting"
	AgentStatusWorking  = "working"
	AgentStatusResting  = "resting"
)

// Agent holds an agent's account: spendable credits plus the daily
// free-speech quota. Credits are whole units, never negative.
type Agent struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Persona        string    `gorm:"type:text" json:"persona"`
	Avatar         string    `gorm:"size:256" json:"avatar"`
	Status         string    `gorm:"size:16;default:idle" json:"status"`
	Credits        int64     `gorm:"not null;default:100;check:credits >= 0" json:"credits"`
	SpeakInterval  int       `gorm:"default:60" json:"speak_interval"`
	DailyFreeQuota int64     `gorm:"not null;default:10" json:"daily_free_quota"`
	QuotaUsedToday int64     `gorm:"not null;default:0" json:"quota_used_today"`
	QuotaResetDate string    `gorm:"size:10" json:"quota_reset_date"` // YYYY-MM-DD
	Satiety        int       `gorm:"default:100" json:"satiety"`
	Mood           int       `gorm:"default:80" json:"mood"`
	Stamina        int       `gorm:"default:100" json:"stamina"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Agent) TableName() string { return "agents" }

// ResourceBalance is one agent's holding of one resource type.
// Available = Quantity - FrozenAmount is the only spendable portion.
// Rows are created lazily on first reference and never deleted.
type ResourceBalance struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID      int64           `gorm:"uniqueIndex:uq_agent_resource;not null" json:"agent_id"`
	ResourceType string          `gorm:"size:32;uniqueIndex:uq_agent_resource;not null" json:"resource_type"`
	Quantity     decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"quantity"`
	FrozenAmount decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"frozen_amount"`
}

func (ResourceBalance) TableName() string { return "resource_balances" }

// Available returns the spendable portion of the balance.
func (b *ResourceBalance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.FrozenAmount)
}

const (
	OrderStatusOpen      = "open"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// MarketOrder is a standing resource-swap offer. SellAmount of SellType
// stays frozen on the seller for the order's whole lifetime; the Remain*
// columns only ever decrease through fills or drop to zero on cancel.
// filled and cancelled are terminal.
type MarketOrder struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID         int64           `gorm:"index;not null" json:"seller_id"`
	SellType         string          `gorm:"size:32;not null" json:"sell_type"`
	SellAmount       decimal.Decimal `gorm:"type:numeric;not null" json:"sell_amount"`
	BuyType          string          `gorm:"size:32;not null" json:"buy_type"`
	BuyAmount        decimal.Decimal `gorm:"type:numeric;not null" json:"buy_amount"`
	RemainSellAmount decimal.Decimal `gorm:"type:numeric;not null" json:"remain_sell_amount"`
	RemainBuyAmount  decimal.Decimal `gorm:"type:numeric;not null" json:"remain_buy_amount"`
	Status           string          `gorm:"size:16;index;default:open" json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (MarketOrder) TableName() string { return "market_orders" }

// IsOpen reports whether the order can still be filled or cancelled.
func (o *MarketOrder) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}

// TradeLog is the immutable record of one fill (partial or full).
type TradeLog struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    int64           `gorm:"index;not null" json:"order_id"`
	SellerID   int64           `gorm:"not null" json:"seller_id"`
	BuyerID    int64           `gorm:"not null" json:"buyer_id"`
	SellType   string          `gorm:"size:32;not null" json:"sell_type"`
	SellAmount decimal.Decimal `gorm:"type:numeric;not null" json:"sell_amount"`
	BuyType    string          `gorm:"size:32;not null" json:"buy_type"`
	BuyAmount  decimal.Decimal `gorm:"type:numeric;not null" json:"buy_amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (TradeLog) TableName() string { return "trade_logs" }

const (
	BountyStatusOpen      = "open"
	BountyStatusClaimed   = "claimed"
	BountyStatusCompleted = "completed"
)

// Bounty is a one-shot reward task: open -> claimed -> completed.
// An agent may hold at most one claimed bounty at a time.
type Bounty struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string     `gorm:"size:128;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Reward      int64      `gorm:"not null" json:"reward"`
	Status      string     `gorm:"size:16;index;default:open" json:"status"`
	ClaimedBy   *int64     `gorm:"index" json:"claimed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Bounty) TableName() string { return "bounties" }

const (
	BuildingTypeFarm    = "farm"
	BuildingTypeMill    = "mill"
	BuildingTypeGovFarm = "gov_farm"
	BuildingTypeMarket  = "market"
	BuildingTypeHouse   = "house"
)

// Building is a workplace in the city.
type Building struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"size:64;not null" json:"name"`
	BuildingType string    `gorm:"size:32;not null" json:"building_type"`
	City         string    `gorm:"size:64;not null" json:"city"`
	Owner        string    `gorm:"size:64" json:"owner"`
	MaxWorkers   int       `gorm:"default:3" json:"max_workers"`
	Description  string    `gorm:"type:text" json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Building) TableName() string { return "buildings" }

// BuildingWorker assigns one agent to one building.
type BuildingWorker struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BuildingID int64     `gorm:"uniqueIndex:uq_building_worker;not null" json:"building_id"`
	AgentID    int64     `gorm:"uniqueIndex:uq_building_worker;not null" json:"agent_id"`
	AssignedAt time.Time `gorm:"autoCreateTime" json:"assigned_at"`
}

func (BuildingWorker) TableName() string { return "building_workers" }

// ProductionLog records one worker's output for one production tick.
type ProductionLog struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BuildingID int64           `gorm:"index;not null" json:"building_id"`
	AgentID    int64           `gorm:"index" json:"agent_id"`
	InputType  string          `gorm:"size:32" json:"input_type"`
	InputQty   decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"input_qty"`
	OutputType string          `gorm:"size:32;not null" json:"output_type"`
	OutputQty  decimal.Decimal `gorm:"type:numeric;not null" json:"output_qty"`
	TickTime   time.Time       `gorm:"autoCreateTime" json:"tick_time"`
}

func (ProductionLog) TableName() string { return "production_logs" }

// AllModels lists every entity for AutoMigrate.
func AllModels() []any {
	return []any{
		&Agent{},
		&ResourceBalance{},
		&MarketOrder{},
		&TradeLog{},
		&Bounty{},
		&Building{},
		&BuildingWorker{},
		&ProductionLog{},
	}
}
