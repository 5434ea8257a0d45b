package city

import (
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"city_go/internal/domain"
	"city_go/internal/event"
)

// Production yields per worker per tick.
var (
	farmWheatOut  = decimal.NewFromInt(10)
	millWheatIn   = decimal.NewFromInt(5)
	millFlourOut  = decimal.NewFromInt(3)
	govFlourOut   = decimal.NewFromInt(5)
	staminaFloor  = 20
	staminaPerJob = 15
)

// ProductionTick runs one production round for a city. Farms yield
// wheat, mills grind wheat into flour, the government farm mints flour
// outright. Workers below the stamina floor skip the round; a worker
// lacking mill input skips without failing the tick.
func (s *Service) ProductionTick(city string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.runBuildings(tx, city, domain.BuildingTypeFarm, s.farmStep); err != nil {
			return err
		}
		if err := s.runBuildings(tx, city, domain.BuildingTypeMill, s.millStep); err != nil {
			return err
		}
		return s.runBuildings(tx, city, domain.BuildingTypeGovFarm, s.govFarmStep)
	})
	if err != nil {
		return err
	}

	slog.Info("production tick settled", slog.String("city", city))
	s.bus.Publish(event.New(event.ProductionSettled, map[string]any{"city": city}))
	return nil
}

type productionStep func(tx *gorm.DB, b *domain.Building, agent *domain.Agent) (*domain.ProductionLog, error)

// runBuildings applies one step to every worker of every building of one
// type. A skipped worker (nil log) never fails the tick.
func (s *Service) runBuildings(tx *gorm.DB, city, buildingType string, step productionStep) error {
	var buildings []domain.Building
	if err := tx.Where("city = ? AND building_type = ?", city, buildingType).Find(&buildings).Error; err != nil {
		return err
	}
	for i := range buildings {
		b := &buildings[i]
		var workers []domain.BuildingWorker
		if err := tx.Where("building_id = ?", b.ID).Find(&workers).Error; err != nil {
			return err
		}
		for _, w := range workers {
			var agent domain.Agent
			if err := tx.First(&agent, w.AgentID).Error; err != nil {
				return err
			}
			if agent.Stamina < staminaFloor {
				slog.Info("production skipped: low stamina",
					slog.String("building", b.Name), slog.Int64("agent_id", agent.ID), slog.Int("stamina", agent.Stamina))
				continue
			}
			log, err := step(tx, b, &agent)
			if err != nil {
				return err
			}
			if log == nil {
				continue
			}
			newStamina := clamp(agent.Stamina-staminaPerJob, 0, 100)
			if err := tx.Model(&domain.Agent{}).Where("id = ?", agent.ID).
				UpdateColumn("stamina", newStamina).Error; err != nil {
				return err
			}
			if err := tx.Create(log).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) farmStep(tx *gorm.DB, b *domain.Building, agent *domain.Agent) (*domain.ProductionLog, error) {
	if err := s.ledger.Credit(tx, agent.ID, "wheat", farmWheatOut); err != nil {
		return nil, err
	}
	return &domain.ProductionLog{
		BuildingID: b.ID,
		AgentID:    agent.ID,
		OutputType: "wheat",
		OutputQty:  farmWheatOut,
	}, nil
}

func (s *Service) millStep(tx *gorm.DB, b *domain.Building, agent *domain.Agent) (*domain.ProductionLog, error) {
	err := s.ledger.Debit(tx, agent.ID, "wheat", millWheatIn)
	if err != nil {
		if domain.KindOf(err) == domain.KindInsufficient {
			slog.Info("production skipped: not enough wheat",
				slog.String("building", b.Name), slog.Int64("agent_id", agent.ID))
			return nil, nil
		}
		return nil, err
	}
	if err := s.ledger.Credit(tx, agent.ID, "flour", millFlourOut); err != nil {
		return nil, err
	}
	return &domain.ProductionLog{
		BuildingID: b.ID,
		AgentID:    agent.ID,
		InputType:  "wheat",
		InputQty:   millWheatIn,
		OutputType: "flour",
		OutputQty:  millFlourOut,
	}, nil
}

func (s *Service) govFarmStep(tx *gorm.DB, b *domain.Building, agent *domain.Agent) (*domain.ProductionLog, error) {
	if err := s.ledger.Credit(tx, agent.ID, "flour", govFlourOut); err != nil {
		return nil, err
	}
	return &domain.ProductionLog{
		BuildingID: b.ID,
		AgentID:    agent.ID,
		OutputType: "flour",
		OutputQty:  govFlourOut,
	}, nil
}

// DailyDecay settles satiety, stamina and mood for every agent once a day.
func (s *Service) DailyDecay() error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var agents []domain.Agent
		if err := tx.Where("id <> ?", domain.HumanID).Find(&agents).Error; err != nil {
			return err
		}
		for _, a := range agents {
			satiety := clamp(a.Satiety-15, 0, 100)
			stamina := clamp(a.Stamina+15, 0, 100)
			mood := a.Mood
			switch {
			case satiety == 0:
				mood = clamp(mood-20, 0, 100)
			case satiety < 30:
				mood = clamp(mood-10, 0, 100)
			}
			if err := tx.Model(&domain.Agent{}).Where("id = ?", a.ID).
				Updates(map[string]any{"satiety": satiety, "stamina": stamina, "mood": mood}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("daily attribute decay settled")
	s.bus.Publish(event.New(event.AttributeChanged, map[string]any{"reason": "daily_decay"}))
	return nil
}

// ProductionLogs returns the latest production entries for a city.
func (s *Service) ProductionLogs(city string, limit int) ([]domain.ProductionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []domain.ProductionLog
	err := s.db.
		Joins("JOIN buildings ON buildings.id = production_logs.building_id").
		Where("buildings.city = ?", city).
		Order("production_logs.tick_time DESC, production_logs.id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
