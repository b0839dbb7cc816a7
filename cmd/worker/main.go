package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"plane-relay/config"
	"plane-relay/internal/dedup"
	"plane-relay/internal/dispatch"
	"plane-relay/internal/plane"
	"plane-relay/internal/queue"
	"plane-relay/internal/relay"
	"plane-relay/internal/worker"
	"plane-relay/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)
	zlog := logger.Desugar()

	if !cfg.QueueMode() {
		logger.Fatal("Worker requires a broker; set RABBITMQ_URI or CLOUDAMQP_URL")
	}

	// The worker runs in its own process; dedup must be shared with the
	// receiving server, so only the MongoDB backend is safe here.
	if cfg.Dedup.Backend != "mongodb" {
		logger.Warn("Worker running with in-memory dedup; duplicates are only suppressed within this process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var guard dedup.Store
	opts := dedup.Options{ClaimTTL: cfg.Dedup.ClaimTTL, Retention: cfg.Dedup.Retention}
	if cfg.Dedup.Backend == "mongodb" {
		guard, err = dedup.NewMongoStore(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection, opts, zlog)
		if err != nil {
			logger.Fatalf("Failed to connect to MongoDB: %v", err)
		}
	} else {
		mem := dedup.NewMemoryStore(opts)
		mem.StartSweeper(cfg.Dedup.SweepInterval)
		guard = mem
	}
	defer guard.Close(context.Background())

	// Initialize broker connection
	broker, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, zlog)
	if err != nil {
		logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer broker.Close()
	broker.StartDepthUpdater(ctx)

	dispatcher := dispatch.NewDispatcher(cfg.Discord.WebhookURL, cfg.Discord.Timeout, dispatch.Options{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		PerEventTimeout: cfg.Retry.PerEventTimeout,
		MinSendInterval: cfg.Discord.MinSendInterval,
	}, zlog)

	var avatars relay.AvatarFetcher
	if cfg.Plane.BaseURL != "" || cfg.Plane.APIToken != "" {
		avatars = plane.NewAvatarFetcher(cfg.Plane.BaseURL, cfg.Plane.APIToken, zlog)
	}

	pipeline := relay.New(guard, dispatcher, avatars, zlog)

	// Start consuming messages
	w := worker.NewWorker(broker, pipeline, zlog)
	if err := w.Start(ctx); err != nil {
		logger.Fatalf("Failed to start worker: %v", err)
	}

	logger.Info("Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Worker shutting down")
}
