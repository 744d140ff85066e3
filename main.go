package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"discord-file-relay/internal/actions"
	"discord-file-relay/internal/config"
	"discord-file-relay/internal/database"
	"discord-file-relay/internal/handler"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/repository"
	"discord-file-relay/internal/router"
	"discord-file-relay/internal/scheduler"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Discord File Relay Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	if cfg.Discord.BotToken == "" || cfg.Discord.ChannelID == "" {
		logrus.Warn("Discord bot token or channel id not configured; engine actions will fail until both are set")
	}

	// Initialize database
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize metrics and metadata store
	m := metrics.NewMetrics()
	repo := repository.New(db)

	// Initialize the action dispatcher over the crawl/refresh engines
	dispatcher := actions.NewDispatcher(cfg, repo, m)

	// Initialize the periodic refresh scheduler
	sched := scheduler.NewScheduler(&cfg.Scheduler, dispatcher)

	// Initialize HTTP handlers and server
	handlers := handler.NewHandlers(db, repo, dispatcher, sched, cfg, m)
	engine := router.SetupRouter(handlers)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
