package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/config"
	"github.com/okeeper/vpn-access-service/internal/db"
	httpserver "github.com/okeeper/vpn-access-service/internal/http"
	"github.com/okeeper/vpn-access-service/internal/registry"
	"github.com/okeeper/vpn-access-service/internal/repository"
	"github.com/okeeper/vpn-access-service/internal/service"
	"github.com/okeeper/vpn-access-service/internal/sweep"
)

func main() {
	log.Println("Starting VPN Access Service...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Repositories
	userRepo := repository.NewUserRepository(pool)
	serverRepo := repository.NewServerRepository(pool)
	grantRepo := repository.NewGrantRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)

	// Server registry, bootstrapped from config when the table is empty
	reg := registry.New(serverRepo, cfg.Outline)
	if err := reg.Refresh(ctx); err != nil {
		log.Fatalf("Failed to load server registry: %v", err)
	}

	// Clients
	outlineClient := client.NewOutlineClient(reg)
	telegramClient := client.NewTelegramClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)

	// Services
	grantService := service.NewGrantService(userRepo, grantRepo, usageRepo, reg, outlineClient)
	entitlementService := service.NewEntitlementService(
		userRepo, telegramClient, cfg.Telegram.ChannelID, cfg.Telegram.MentorChannelID)

	// Sweeps
	metricsSweep := sweep.NewMetricsSweep(reg, outlineClient, grantRepo, usageRepo)
	reconcileSweep := sweep.NewReconcileSweep(
		reg, outlineClient, grantRepo, userRepo, entitlementService, grantService, telegramClient)

	scheduler, err := sweep.NewScheduler(
		metricsSweep, reconcileSweep, cfg.Sweep.MetricsInterval, cfg.Sweep.ReconcileInterval)
	if err != nil {
		log.Fatalf("Failed to schedule sweeps: %v", err)
	}
	scheduler.Start()

	// HTTP server
	handler := httpserver.NewHandler(grantService, userRepo, reg, outlineClient, reconcileSweep)
	server := httpserver.NewServer(cfg, handler)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: let any in-flight sweep tick finish before exiting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	scheduler.Stop()
	log.Println("Server exited")
}
