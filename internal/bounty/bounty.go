// Package bounty implements the claim/complete workflow for one-shot
// reward tasks. The claim is a single conditional update that enforces
// both first-come-first-served and the one-active-claim-per-agent rule
// in one round trip.
package bounty

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"city_go/internal/domain"
	"city_go/internal/event"
	"city_go/internal/infra"
)

// Engine drives the bounty state machine: open -> claimed -> completed.
type Engine struct {
	db  *gorm.DB
	bus *event.Bus
}

func New(db *gorm.DB, bus *event.Bus) *Engine {
	return &Engine{db: db, bus: bus}
}

// Create opens a new bounty.
func (e *Engine) Create(title, description string, reward int64) (*domain.Bounty, error) {
	if title == "" {
		return nil, domain.NewOpError(domain.KindInvalidAmount, "title must not be empty")
	}
	if reward <= 0 {
		return nil, domain.NewOpError(domain.KindInvalidAmount, "reward must be greater than 0")
	}
	b := domain.Bounty{
		Title:       title,
		Description: description,
		Reward:      reward,
		Status:      domain.BountyStatusOpen,
	}
	if err := e.db.Create(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns bounties newest first, optionally filtered by status.
func (e *Engine) List(status string, limit, offset int) ([]domain.Bounty, error) {
	if limit <= 0 {
		limit = 20
	}
	q := e.db.Order("created_at DESC, id DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var bounties []domain.Bounty
	err := q.Find(&bounties).Error
	return bounties, err
}

// Claim transitions an open bounty to claimed for the agent. The single
// conditional update is the sole correctness guarantee: the NOT EXISTS
// predicate keeps an agent from holding two active claims even under
// concurrent requests. The follow-up read after a failed claim only
// shapes the error message and may be stale.
func (e *Engine) Claim(agentID, bountyID int64) (*domain.Bounty, error) {
	var b domain.Bounty
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&b, bountyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "bounty %d not found", bountyID)
			}
			return err
		}
		var agent domain.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
			}
			return err
		}

		res := tx.Model(&domain.Bounty{}).
			Where("id = ? AND status = ? AND NOT EXISTS (SELECT 1 FROM bounties WHERE claimed_by = ? AND status = ?)",
				bountyID, domain.BountyStatusOpen, agentID, domain.BountyStatusClaimed).
			Updates(map[string]any{"status": domain.BountyStatusClaimed, "claimed_by": agentID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Diagnostic read only; the CAS above already decided.
			var active int64
			if err := tx.Model(&domain.Bounty{}).
				Where("claimed_by = ? AND status = ?", agentID, domain.BountyStatusClaimed).
				Count(&active).Error; err != nil {
				return err
			}
			if active > 0 {
				return domain.NewOpError(domain.KindAlreadyClaimed, "already has an active bounty")
			}
			return domain.NewOpError(domain.KindAlreadyClaimed, "bounty already claimed or no longer open")
		}

		return tx.First(&b, bountyID).Error
	})
	if err != nil {
		return nil, err
	}

	infra.GlobalMetrics.RecordBountyClaimed()
	e.bus.Publish(event.New(event.BountyClaimed, map[string]any{
		"bounty_id": b.ID,
		"agent_id":  agentID,
		"title":     b.Title,
		"reward":    b.Reward,
	}))
	return &b, nil
}

// Complete transitions the agent's claimed bounty to completed and
// credits the reward, both inside one transaction: a crash before commit
// leaves neither change visible.
func (e *Engine) Complete(agentID, bountyID int64) (*domain.Bounty, error) {
	var b domain.Bounty
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&b, bountyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "bounty %d not found", bountyID)
			}
			return err
		}
		if b.Status != domain.BountyStatusClaimed {
			return domain.NewOpError(domain.KindInvalidState, "bounty is %s, not claimed", b.Status)
		}
		if b.ClaimedBy == nil || *b.ClaimedBy != agentID {
			return domain.NewOpError(domain.KindNotOwner, "only the claiming agent can complete this bounty")
		}

		now := time.Now().UTC()
		res := tx.Model(&domain.Bounty{}).
			Where("id = ? AND status = ? AND claimed_by = ?", bountyID, domain.BountyStatusClaimed, agentID).
			Updates(map[string]any{"status": domain.BountyStatusCompleted, "completed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}

		if err := tx.Model(&domain.Agent{}).
			Where("id = ?", agentID).
			UpdateColumn("credits", gorm.Expr("credits + ?", b.Reward)).Error; err != nil {
			return err
		}

		b.Status = domain.BountyStatusCompleted
		b.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}
