package app

import (
	"context"
	"log/slog"
	"sync"

	"city_go/internal/autonomy"
	"city_go/internal/bounty"
	"city_go/internal/city"
	"city_go/internal/domain"
	"city_go/internal/economy"
	"city_go/internal/event"
	"city_go/internal/infra"
	"city_go/internal/infra/storage"
	"city_go/internal/ledger"
	"city_go/internal/market"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Downloader *infra.AvatarDownloader

	Bus      *event.Bus
	Economy  *economy.Economy
	Market   *market.Engine
	Bounty   *bounty.Engine
	City     *city.Service
	Executor *autonomy.Executor
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, engines)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping City Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Database.Path))

	// 4. Wire the engines. They all share one gorm handle and one bus.
	b.Bus = event.NewBus()
	led := ledger.New()
	db := store.DB()
	b.Economy = economy.New(db)
	b.Market = market.New(db, led, b.Bus)
	b.Bounty = bounty.New(db, b.Bus)
	b.City = city.New(db, led, b.Bus)
	b.Executor = autonomy.NewExecutor(b.Economy, b.Market, b.Bounty, b.City)
	slog.Info("✅ Engines wired")

	// 5. Initialize Avatar Downloader (optional)
	if cfg.Avatars.Enabled {
		downloader, err := infra.NewAvatarDownloader(cfg.Avatars.BaseURL, cfg.Avatars.Dir)
		if err != nil {
			return err
		}
		b.Downloader = downloader
		slog.Info("✅ Avatar downloader ready")
	}

	return nil
}

// SyncAvatars downloads missing avatar images for all known agents in
// the background so startup is not blocked on the network.
func (b *Bootstrap) SyncAvatars(ctx context.Context) {
	if b.Downloader == nil {
		return
	}
	slog.Info("🔄 Starting avatar synchronization...")

	var agents []domain.Agent
	if err := b.Storage.DB().Where("id <> ?", domain.HumanID).Find(&agents).Error; err != nil {
		slog.Error("Failed to list agents for avatar sync", slog.Any("error", err))
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads

	for _, a := range agents {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			if _, err := b.Downloader.Download(name); err != nil {
				slog.Warn("Failed to download avatar", slog.String("agent", name), slog.Any("error", err))
			}
		}(a.Name)
	}

	wg.Wait()
	slog.Info("✨ Avatar synchronization completed")
}

// Shutdown releases held resources.
func (b *Bootstrap) Shutdown() {
	if b.Bus != nil {
		b.Bus.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
