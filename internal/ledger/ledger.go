// Package ledger holds the only write path for per-agent resource
// balances. Every mutator takes the caller's transaction and never
// commits: a multi-step swap stays all-or-nothing because the caller
// owns the commit boundary.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"city_go/internal/domain"
)

// Ledger exposes the atomic mutators over (agent, resource) balances.
// It is stateless; all state lives in the store.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// GetOrCreate fetches the balance row, creating a zero row on first
// reference. The insert is conflict-tolerant so two concurrent first
// references converge on the same row.
func (l *Ledger) GetOrCreate(tx *gorm.DB, agentID int64, resourceType string) (*domain.ResourceBalance, error) {
	var rb domain.ResourceBalance
	err := tx.Where("agent_id = ? AND resource_type = ?", agentID, resourceType).First(&rb).Error
	if err == nil {
		return &rb, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := domain.ResourceBalance{
		AgentID:      agentID,
		ResourceType: resourceType,
		Quantity:     decimal.Zero,
		FrozenAmount: decimal.Zero,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("agent_id = ? AND resource_type = ?", agentID, resourceType).First(&rb).Error; err != nil {
		return nil, err
	}
	return &rb, nil
}

// Get returns the balance row without creating it. Missing rows read as zero.
func (l *Ledger) Get(tx *gorm.DB, agentID int64, resourceType string) (*domain.ResourceBalance, error) {
	var rb domain.ResourceBalance
	err := tx.Where("agent_id = ? AND resource_type = ?", agentID, resourceType).First(&rb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ResourceBalance{AgentID: agentID, ResourceType: resourceType}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

// ListForAgent returns all balance rows an agent has touched.
func (l *Ledger) ListForAgent(tx *gorm.DB, agentID int64) ([]domain.ResourceBalance, error) {
	var rows []domain.ResourceBalance
	err := tx.Where("agent_id = ?", agentID).Order("resource_type").Find(&rows).Error
	return rows, err
}

// Freeze moves amount from spendable quantity into the frozen sub-balance.
// There is no partial freeze: either available covers the full amount or
// nothing changes.
func (l *Ledger) Freeze(tx *gorm.DB, agentID int64, resourceType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	rb, err := l.GetOrCreate(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if rb.Available().LessThan(amount) {
		return domain.NewOpError(domain.KindInsufficient,
			"%s available %s, need %s", resourceType, rb.Available(), amount)
	}
	return l.casUpdate(tx, rb, rb.Quantity.Sub(amount), rb.FrozenAmount.Add(amount))
}

// ReleaseFrozen decrements the frozen sub-balance when previously frozen
// stock leaves through a trade. The stock does not return to quantity.
func (l *Ledger) ReleaseFrozen(tx *gorm.DB, agentID int64, resourceType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	rb, err := l.GetOrCreate(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if rb.FrozenAmount.LessThan(amount) {
		return domain.NewOpError(domain.KindInvalidState,
			"release %s exceeds frozen %s of %s", amount, rb.FrozenAmount, resourceType)
	}
	return l.casUpdate(tx, rb, rb.Quantity, rb.FrozenAmount.Sub(amount))
}

// Credit unconditionally adds to the spendable quantity.
func (l *Ledger) Credit(tx *gorm.DB, agentID int64, resourceType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	rb, err := l.GetOrCreate(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	return l.casUpdate(tx, rb, rb.Quantity.Add(amount), rb.FrozenAmount)
}

// Debit subtracts from the spendable quantity; it requires available to
// cover the full amount.
func (l *Ledger) Debit(tx *gorm.DB, agentID int64, resourceType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	rb, err := l.GetOrCreate(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if rb.Available().LessThan(amount) {
		return domain.NewOpError(domain.KindInsufficient,
			"%s available %s, need %s", resourceType, rb.Available(), amount)
	}
	return l.casUpdate(tx, rb, rb.Quantity.Sub(amount), rb.FrozenAmount)
}

// casUpdate writes the new quantity/frozen pair conditional on the values
// the precondition was checked against. Zero rows affected means another
// writer slipped in between read and write, which the store's write
// serialization is expected to prevent; it aborts the transaction.
func (l *Ledger) casUpdate(tx *gorm.DB, rb *domain.ResourceBalance, quantity, frozen decimal.Decimal) error {
	res := tx.Model(&domain.ResourceBalance{}).
		Where("id = ? AND quantity = ? AND frozen_amount = ?", rb.ID, rb.Quantity, rb.FrozenAmount).
		Updates(map[string]any{"quantity": quantity, "frozen_amount": frozen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	rb.Quantity = quantity
	rb.FrozenAmount = frozen
	return nil
}

// VerifyInvariant checks 0 <= frozen <= quantity on one balance row.
func VerifyInvariant(rb *domain.ResourceBalance) error {
	if rb.Quantity.IsNegative() {
		return domain.NewOpError(domain.KindInvalidState,
			"%s quantity is negative: %s", rb.ResourceType, rb.Quantity)
	}
	if rb.FrozenAmount.IsNegative() {
		return domain.NewOpError(domain.KindInvalidState,
			"%s frozen is negative: %s", rb.ResourceType, rb.FrozenAmount)
	}
	if rb.FrozenAmount.GreaterThan(rb.Quantity) {
		return domain.NewOpError(domain.KindInvalidState,
			"%s frozen %s exceeds quantity %s", rb.ResourceType, rb.FrozenAmount, rb.Quantity)
	}
	return nil
}
