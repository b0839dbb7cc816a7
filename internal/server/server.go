package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"plane-relay/api/handlers"
	"plane-relay/api/router"
	"plane-relay/config"
	"plane-relay/internal/dedup"
	"plane-relay/internal/dispatch"
	"plane-relay/internal/plane"
	"plane-relay/internal/queue"
	"plane-relay/internal/relay"
	"plane-relay/internal/verify"
	"plane-relay/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger
	guard         dedup.Store
	publisher     queue.Publisher
}

// NewServer wires the full pipeline from configuration. When a broker URL
// is configured the handler publishes instead of dispatching inline and
// cmd/worker owns delivery.
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	zlog := log.Desugar()

	guard, err := newGuard(cfg, zlog)
	if err != nil {
		return nil, fmt.Errorf("creating delivery-record store: %w", err)
	}
	if mem, ok := guard.(*dedup.MemoryStore); ok {
		mem.StartSweeper(cfg.Dedup.SweepInterval)
	}

	verifier := verify.NewVerifier(cfg.Plane.WebhookSecret, cfg.Plane.StaticToken)

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

	var publisher queue.Publisher
	if cfg.QueueMode() {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, zlog)
		if err != nil {
			return nil, fmt.Errorf("creating rabbitmq publisher: %w", err)
		}
		publisher = rmq
		zlog.Info("Queue mode enabled, events will be delivered by the worker",
			zap.String("exchange", cfg.RabbitMQ.Exchange),
			zap.String("queue", cfg.RabbitMQ.QueueName))
	}

	archiver := handlers.NewArchiver(cfg.Debug.ArchiveDir, zlog)
	handler := handlers.NewPlaneWebhookHandler(zlog, verifier, pipeline, publisher, archiver)
	r := router.Setup(handler)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler: promhttp.Handler(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: r,
		},
		metricsServer: metricsServer,
		logger:        log,
		guard:         guard,
		publisher:     publisher,
	}, nil
}

func newGuard(cfg *config.Config, zlog *zap.Logger) (dedup.Store, error) {
	opts := dedup.Options{
		ClaimTTL:  cfg.Dedup.ClaimTTL,
		Retention: cfg.Dedup.Retention,
	}

	if cfg.Dedup.Backend == "mongodb" {
		return dedup.NewMongoStore(context.Background(), cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection, opts, zlog)
	}
	return dedup.NewMemoryStore(opts), nil
}

func (s *Server) Start() error {
	go func() {
		s.logger.Info("Metrics server starting on " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	s.logger.Info("Relay server starting on " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Errorf("failed to close publisher: %v", err)
		}
	}
	if err := s.guard.Close(ctx); err != nil {
		s.logger.Errorf("failed to close delivery-record store: %v", err)
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to stop metrics server: %v", err)
	}
	return s.httpServer.Shutdown(ctx)
}
