package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"plane-relay/config"
	"plane-relay/internal/server"
	"plane-relay/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	// Load local .env if present; real deployments set env directly.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)

	// Initialize server
	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize server: %v", err)
	}

	// Start server
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Shutdown server
	if err := srv.Shutdown(); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
}
