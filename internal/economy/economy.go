// Package economy gates and charges free-text actions. Work actions and
// the human participant are always free. The charge path is a pair of
// conditional updates so a pre-check that went stale during an inference
// call can never overdraw an account.
package economy

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"city_go/internal/domain"
)

const dateLayout = "2006-01-02"

// ActionKindWork marks actions that never cost quota or credits.
const ActionKindWork = "work"

// Economy is the quota/credit engine. One instance per process, shared
// by request handlers and the autonomy loop.
type Economy struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Economy {
	return &Economy{db: db}
}

// QuotaDecision is the advisory answer of CheckQuota. It can go stale
// before DeductQuota runs; only the deduction itself is authoritative.
type QuotaDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Balance is the spendable view of one agent's account.
type Balance struct {
	Credits        int64 `json:"credits"`
	DailyFreeQuota int64 `json:"daily_free_quota"`
	QuotaUsedToday int64 `json:"quota_used_today"`
	FreeRemaining  int64 `json:"free_remaining"`
}

// CheckQuota is the read-only pre-check: human -> allowed, work -> allowed,
// then free quota, then credits. The result is advisory only.
func (e *Economy) CheckQuota(agentID int64, kind string) (QuotaDecision, error) {
	if agentID == domain.HumanID {
		return QuotaDecision{Allowed: true, Reason: "human"}, nil
	}
	if kind == ActionKindWork {
		return QuotaDecision{Allowed: true, Reason: "work is free"}, nil
	}

	var agent domain.Agent
	if err := e.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return QuotaDecision{}, domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
		}
		return QuotaDecision{}, err
	}
	if err := e.resetIfNeeded(e.db, &agent); err != nil {
		return QuotaDecision{}, err
	}

	if agent.QuotaUsedToday < agent.DailyFreeQuota {
		return QuotaDecision{Allowed: true, Reason: "free quota available"}, nil
	}
	if agent.Credits > 0 {
		return QuotaDecision{Allowed: true, Reason: "credits available"}, nil
	}
	return QuotaDecision{Allowed: false, Reason: "no quota or credits left"}, nil
}

// DeductQuota performs the actual charge: first a conditional quota
// increment, then a conditional credit deduction. Either update only
// lands if its predicate still holds at write time, so a stale pre-check
// cannot cause an overdraw. A false return means the action happened but
// was not charged; callers must not undo the action.
func (e *Economy) DeductQuota(agentID int64) (bool, error) {
	if agentID == domain.HumanID {
		return true, nil
	}

	var deducted bool
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var agent domain.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
			}
			return err
		}
		if err := e.resetIfNeeded(tx, &agent); err != nil {
			return err
		}

		res := tx.Model(&domain.Agent{}).
			Where("id = ? AND quota_used_today < daily_free_quota", agentID).
			UpdateColumn("quota_used_today", gorm.Expr("quota_used_today + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			deducted = true
			return nil
		}

		res = tx.Model(&domain.Agent{}).
			Where("id = ? AND credits > 0", agentID).
			UpdateColumn("credits", gorm.Expr("credits - 1"))
		if res.Error != nil {
			return res.Error
		}
		deducted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deducted, nil
}

// TransferCredits moves whole credits between two agents. The sender side
// is a conditional debit, so concurrent transfers cannot overdraw.
func (e *Economy) TransferCredits(fromID, toID int64, amount int64) error {
	if amount <= 0 {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	if fromID == toID {
		return domain.NewOpError(domain.KindInvalidAmount, "cannot transfer credits to self")
	}
	return e.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range []int64{fromID, toID} {
			var agent domain.Agent
			if err := tx.First(&agent, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.NewOpError(domain.KindNotFound, "agent %d not found", id)
				}
				return err
			}
		}

		res := tx.Model(&domain.Agent{}).
			Where("id = ? AND credits >= ?", fromID, amount).
			UpdateColumn("credits", gorm.Expr("credits - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.NewOpError(domain.KindInsufficient, "not enough credits")
		}
		return tx.Model(&domain.Agent{}).
			Where("id = ?", toID).
			UpdateColumn("credits", gorm.Expr("credits + ?", amount)).Error
	})
}

// GetBalance returns the agent's spendable view with the lazy daily
// reset applied.
func (e *Economy) GetBalance(agentID int64) (*Balance, error) {
	var agent domain.Agent
	if err := e.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
		}
		return nil, err
	}
	if err := e.resetIfNeeded(e.db, &agent); err != nil {
		return nil, err
	}
	free := agent.DailyFreeQuota - agent.QuotaUsedToday
	if free < 0 {
		free = 0
	}
	return &Balance{
		Credits:        agent.Credits,
		DailyFreeQuota: agent.DailyFreeQuota,
		QuotaUsedToday: agent.QuotaUsedToday,
		FreeRemaining:  free,
	}, nil
}

// resetIfNeeded zeroes the used quota the first time the account is
// touched on a new calendar day. The predicate re-checks the date at
// write time, so concurrent resets collapse to one.
func (e *Economy) resetIfNeeded(tx *gorm.DB, agent *domain.Agent) error {
	today := time.Now().Format(dateLayout)
	if agent.QuotaResetDate == today {
		return nil
	}
	res := tx.Model(&domain.Agent{}).
		Where("id = ? AND (quota_reset_date IS NULL OR quota_reset_date <> ?)", agent.ID, today).
		Updates(map[string]any{"quota_used_today": 0, "quota_reset_date": today})
	if res.Error != nil {
		return res.Error
	}
	// Either we reset it or a concurrent caller already did.
	agent.QuotaUsedToday = 0
	agent.QuotaResetDate = today
	return nil
}
