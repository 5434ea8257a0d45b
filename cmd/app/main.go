package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"city_go/internal/app"
	"city_go/internal/server"
	"city_go/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Background Avatar Sync
	go bootstrap.SyncAvatars(ctx)

	// 4. Websocket Hub
	hub := ws.NewHub(bootstrap.Bus)
	go hub.Run(ctx)
	slog.InfoContext(ctx, "✅ Websocket hub started")

	cfg := bootstrap.Config

	// 5. Production & Decay Scheduler
	if cfg.Scheduler.Enabled {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Scheduler.ProductionCron, func() {
			if err := bootstrap.City.ProductionTick(cfg.City.Name); err != nil {
				slog.Error("Production tick failed", slog.Any("error", err))
			}
		}); err != nil {
			slog.Error("❌ Invalid production cron spec", slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := c.AddFunc(cfg.Scheduler.DecayCron, func() {
			if err := bootstrap.City.DailyDecay(); err != nil {
				slog.Error("Daily decay failed", slog.Any("error", err))
			}
		}); err != nil {
			slog.Error("❌ Invalid decay cron spec", slog.Any("error", err))
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		slog.InfoContext(ctx, "✅ Scheduler started",
			slog.String("production", cfg.Scheduler.ProductionCron),
			slog.String("decay", cfg.Scheduler.DecayCron))
	}

	// 6. HTTP API
	srv := server.New(bootstrap.Economy, bootstrap.Market, bootstrap.Bounty, bootstrap.City, cfg.City.Name, hub.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("✅ HTTP server listening", slog.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("❌ HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ City fully operational. Press Ctrl+C to exit.",
		slog.String("city", cfg.City.Name))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}
}
