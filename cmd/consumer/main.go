package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/logvault/internal/adapter/api"
	"github.com/V4T54L/logvault/internal/adapter/api/handler"
	"github.com/V4T54L/logvault/internal/adapter/broker/rabbitmq"
	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/adapter/pii"
	"github.com/V4T54L/logvault/internal/adapter/repository"
	"github.com/V4T54L/logvault/internal/adapter/repository/deadletter"
	"github.com/V4T54L/logvault/internal/domain"
	"github.com/V4T54L/logvault/internal/pkg/config"
	"github.com/V4T54L/logvault/internal/pkg/logger"
	"github.com/V4T54L/logvault/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname, using default", "error", err)
		hostname = "consumer"
	}
	log = log.With("service", "consumer", "hostname", hostname)
	log.Info("starting consumer worker")

	if err := run(cfg, log, hostname); err != nil {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer worker shut down gracefully")
}

func run(cfg *config.Config, log *slog.Logger, hostname string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	backend, err := repository.Open(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer backend.Close()
	go backend.WatchCache(ctx)

	var deadLetters domain.DeadLetterRepository
	var store *deadletter.Store
	if cfg.DeadLetterPath != "" {
		store, err = deadletter.NewStore(cfg.DeadLetterPath, cfg.DeadLetterSegmentSize, cfg.DeadLetterMaxDiskSize, log)
		if err != nil {
			return err
		}
		defer store.Close()
		deadLetters = store
	}

	conn := rabbitmq.New(rabbitmq.Options{
		URL:           cfg.RabbitMQURL,
		Attempts:      cfg.BrokerConnectAttempts,
		Delay:         cfg.BrokerConnectDelay,
		PublishBuffer: cfg.BrokerPublishBuffer,
		Prefetch:      cfg.ConsumerPrefetch,
	}, log, m)
	defer conn.Close()

	redactor := pii.NewRedactor(cfg.PIIRedactionFields, log)
	createLog := usecase.NewCreateLogUseCase(backend.Repo, redactor, log, m)
	processor := usecase.NewLogProcessor(conn, createLog, deadLetters, usecase.ProcessorConfig{
		Concurrency:             cfg.ConsumerConcurrency,
		RequeueOnStorageFailure: cfg.ConsumerRequeueOnStorageFailure,
	}, log, m)

	var admin *handler.AdminHandler
	if store != nil {
		admin = handler.NewAdminHandler(store, processor, log)
	}
	adminServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: api.NewAdminRouter(prometheus.DefaultGatherer, handler.NewHealthHandler(backend, conn, hostname), admin),
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error("admin server shutdown failed", "error", err)
		}
	}()

	// Without a broker there is nothing to consume, so exhaustion is fatal.
	if err := conn.Bootstrap(ctx, processor.Setup); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if cfg.DeadLetterReplayOnStart {
		if n, err := processor.ReplayDeadLetters(ctx); err != nil {
			log.Warn("dead-letter replay on start incomplete", "replayed", n, "error", err)
		}
	}

	log.Info("consumer worker started, processing logs...", "queue", domain.LogTopology.Queue, "concurrency", cfg.ConsumerConcurrency)
	return processor.Run(ctx)
}
