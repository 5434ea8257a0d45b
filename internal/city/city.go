// Package city covers direct peer-to-peer resource moves and the city
// economy around them: eating, daily production, attribute decay, and
// building/worker assignment.
package city

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"city_go/internal/domain"
	"city_go/internal/event"
	"city_go/internal/infra"
	"city_go/internal/ledger"
)

// Service is the transfer/production engine. One instance per process.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	bus    *event.Bus
}

func New(db *gorm.DB, led *ledger.Ledger, bus *event.Bus) *Service {
	return &Service{db: db, ledger: led, bus: bus}
}

// Transfer moves spendable resource quantity between two agents.
// Frozen stock never moves.
func (s *Service) Transfer(fromID, toID int64, resourceType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewOpError(domain.KindInvalidAmount, "amount must be greater than 0")
	}
	if fromID == toID {
		return domain.NewOpError(domain.KindInvalidAmount, "cannot transfer to self")
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range []int64{fromID, toID} {
			if err := agentExists(tx, id); err != nil {
				return err
			}
		}
		if err := s.ledger.Debit(tx, fromID, resourceType, amount); err != nil {
			return err
		}
		return s.ledger.Credit(tx, toID, resourceType, amount)
	})
	if err != nil {
		return err
	}

	infra.GlobalMetrics.RecordTransfer()
	s.bus.Publish(event.New(event.ResourceTransferred, map[string]any{
		"from_agent_id": fromID,
		"to_agent_id":   toID,
		"resource_type": resourceType,
		"quantity":      amount,
	}))
	return nil
}

// Resources returns the agent's balance rows.
func (s *Service) Resources(agentID int64) ([]domain.ResourceBalance, error) {
	if err := agentExists(s.db, agentID); err != nil {
		return nil, err
	}
	return s.ledger.ListForAgent(s.db, agentID)
}

// Vitals is the satiety/mood/stamina triple.
type Vitals struct {
	Satiety int `json:"satiety"`
	Mood    int `json:"mood"`
	Stamina int `json:"stamina"`
}

// EatFood consumes one flour: satiety +30, mood +10, stamina +20,
// each capped at 100.
func (s *Service) EatFood(agentID int64) (*Vitals, error) {
	var v Vitals
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var agent domain.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewOpError(domain.KindNotFound, "agent %d not found", agentID)
			}
			return err
		}
		if err := s.ledger.Debit(tx, agentID, "flour", decimal.NewFromInt(1)); err != nil {
			return err
		}
		v = Vitals{
			Satiety: clamp(agent.Satiety+30, 0, 100),
			Mood:    clamp(agent.Mood+10, 0, 100),
			Stamina: clamp(agent.Stamina+20, 0, 100),
		}
		return tx.Model(&domain.Agent{}).Where("id = ?", agentID).
			Updates(map[string]any{"satiety": v.Satiety, "mood": v.Mood, "stamina": v.Stamina}).Error
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.New(event.AgentAte, map[string]any{
		"agent_id": agentID,
		"satiety":  v.Satiety,
		"mood":     v.Mood,
		"stamina":  v.Stamina,
	}))
	return &v, nil
}

// AssignWorker puts an agent to work in a building. An agent works at
// most one building; a building holds at most MaxWorkers.
func (s *Service) AssignWorker(city string, buildingID, agentID int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var b domain.Building
		if err := tx.First(&b, buildingID).Error; err != nil || b.City != city {
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return domain.NewOpError(domain.KindNotFound, "building %d not found in %s", buildingID, city)
		}
		if err := agentExists(tx, agentID); err != nil {
			return err
		}

		var current int64
		if err := tx.Model(&domain.BuildingWorker{}).
			Where("building_id = ?", buildingID).Count(&current).Error; err != nil {
			return err
		}
		if current >= int64(b.MaxWorkers) {
			return domain.NewOpError(domain.KindInvalidState, "building %s has no free slot", b.Name)
		}

		var elsewhere int64
		if err := tx.Model(&domain.BuildingWorker{}).
			Where("agent_id = ?", agentID).Count(&elsewhere).Error; err != nil {
			return err
		}
		if elsewhere > 0 {
			return domain.NewOpError(domain.KindInvalidState, "agent already works at another building")
		}

		return tx.Create(&domain.BuildingWorker{BuildingID: buildingID, AgentID: agentID}).Error
	})
	if err != nil {
		return err
	}

	s.bus.Publish(event.New(event.WorkerAssigned, map[string]any{
		"agent_id":    agentID,
		"building_id": buildingID,
	}))
	return nil
}

// RemoveWorker takes an agent off a building.
func (s *Service) RemoveWorker(buildingID, agentID int64) error {
	res := s.db.Where("building_id = ? AND agent_id = ?", buildingID, agentID).
		Delete(&domain.BuildingWorker{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewOpError(domain.KindNotFound, "agent %d does not work at building %d", agentID, buildingID)
	}

	s.bus.Publish(event.New(event.WorkerUnassigned, map[string]any{
		"agent_id":    agentID,
		"building_id": buildingID,
	}))
	return nil
}

// BuildingView is a building with its assigned workers.
type BuildingView struct {
	domain.Building
	Workers []domain.BuildingWorker `json:"workers"`
}

// Overview lists a city's buildings with workers.
func (s *Service) Overview(city string) ([]BuildingView, error) {
	var buildings []domain.Building
	if err := s.db.Where("city = ?", city).Order("id").Find(&buildings).Error; err != nil {
		return nil, err
	}
	views := make([]BuildingView, 0, len(buildings))
	for _, b := range buildings {
		var workers []domain.BuildingWorker
		if err := s.db.Where("building_id = ?", b.ID).Find(&workers).Error; err != nil {
			return nil, err
		}
		views = append(views, BuildingView{Building: b, Workers: workers})
	}
	return views, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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
