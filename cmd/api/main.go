package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/logvault/internal/adapter/api"
	"github.com/V4T54L/logvault/internal/adapter/api/handler"
	"github.com/V4T54L/logvault/internal/adapter/broker/rabbitmq"
	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/adapter/pii"
	"github.com/V4T54L/logvault/internal/adapter/repository"
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

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	hostname, err := os.Hostname()
	if err != nil {
		logger.Warn("could not get hostname, using default", "error", err)
		hostname = "api"
	}
	logger = logger.With("service", "api", "hostname", hostname)

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	backend, err := repository.Open(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("failed to open storage backend", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	go backend.WatchCache(ctx)
	logger.Info("storage backend ready", "backend", backend.Name)

	// --- Broker ---
	// The API serves synchronous traffic while the broker connects. Async
	// requests are rejected until the channel is ready.
	conn := rabbitmq.New(rabbitmq.Options{
		URL:           cfg.RabbitMQURL,
		Attempts:      cfg.BrokerConnectAttempts,
		Delay:         cfg.BrokerConnectDelay,
		PublishBuffer: cfg.BrokerPublishBuffer,
	}, logger, m)
	defer conn.Close()

	dispatcher := usecase.NewLogDispatcher(conn, logger, m)
	go func() {
		if err := conn.Bootstrap(ctx, dispatcher.Setup); err != nil {
			logger.Error("broker unavailable, async ingestion disabled", "error", err)
		}
	}()

	// --- Use Cases and Handlers ---
	redactor := pii.NewRedactor(cfg.PIIRedactionFields, logger)
	createLog := usecase.NewCreateLogUseCase(backend.Repo, redactor, logger, m)
	getLogs := usecase.NewGetLogsUseCase(backend.Repo)

	logHandler := handler.NewLogHandler(createLog, dispatcher, getLogs, logger, cfg.MaxBodySize)
	healthHandler := handler.NewHealthHandler(backend, conn, hostname)

	// --- Servers ---
	adminServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: api.NewAdminRouter(prometheus.DefaultGatherer, healthHandler, nil),
	}
	apiServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(logger, hostname, logHandler, healthHandler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		logger.Info("starting api server", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
