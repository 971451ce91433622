package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/boliseva-loan-ledger/internal/api"
	"github.com/boliseva-loan-ledger/internal/app"
	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/logger"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
	"github.com/boliseva-loan-ledger/internal/scheduler"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("ledger_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting loan ledger node",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	if err := persistence.RunMigrations(cfg.Postgres.URL, cfg.Postgres.MigrationsPath); err != nil {
		log.Warn("Remote migrations not applied, will rely on the existing schema", "error", err)
	}

	node, err := app.New(appCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize ledger node", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(&cfg.Scheduler, node.Ledger, log)
	if err != nil {
		log.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(log, cfg, node.Commands, node.Monitor)

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	wg.Add(3)
	go func() {
		defer wg.Done()
		node.Monitor.Start(appCtx)
	}()
	go func() {
		defer wg.Done()
		node.Queue.Start(appCtx, cfg.SyncQueue.DrainInterval)
	}()
	go func() {
		defer wg.Done()
		sched.Start(appCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		log.Info("Background loops stopped")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, closing connections anyway")
	}

	if err = node.Close(shutdownCtx); err != nil {
		log.Error("Error closing ledger node", "error", err)
	}

	if serverErr != nil {
		log.Error("Ledger node shutdown with errors", "error", serverErr)
	} else if err != nil {
		log.Error("Ledger node shutdown completed with errors")
	} else {
		log.Info("Ledger node shutdown completed successfully")
	}
}
