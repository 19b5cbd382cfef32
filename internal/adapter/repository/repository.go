package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/adapter/repository/cassandra"
	"github.com/V4T54L/logvault/internal/adapter/repository/postgres"
	"github.com/V4T54L/logvault/internal/adapter/repository/redis"
	"github.com/V4T54L/logvault/internal/domain"
	"github.com/V4T54L/logvault/internal/pkg/config"
)

const cacheHealthInterval = 10 * time.Second

// Backend is the storage selected at startup together with the clients it
// owns.
type Backend struct {
	Repo    domain.LogRepository
	Name    string
	ping    func(context.Context) error
	cache   *redis.CachedLogRepository
	closers []func() error
}

// Ping checks the storage backend.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// WatchCache keeps the query cache's availability flag current. It blocks
// until ctx is done and returns immediately when no cache is configured.
func (b *Backend) WatchCache(ctx context.Context) {
	if b.cache != nil {
		b.cache.StartHealthCheck(ctx, cacheHealthInterval)
	}
}

// Close releases every client in reverse order of creation.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Open builds the backend named by cfg.StorageBackend and wraps it in the
// Redis query cache when cfg.RedisURL is set.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.PipelineMetrics) (*Backend, error) {
	b := &Backend{Name: cfg.StorageBackend}

	switch cfg.StorageBackend {
	case config.BackendCassandra:
		session, err := cassandra.NewSession(cassandra.Options{
			ContactPoints: cfg.CassandraContactPoints,
			LocalDC:       cfg.CassandraLocalDC,
			Keyspace:      cfg.CassandraKeyspace,
			Timeout:       cfg.CassandraTimeout,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { session.Close(); return nil })

		repo := cassandra.NewLogRepository(session, cfg.CassandraKeyspace, logger, m)
		if cfg.StorageAutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				_ = b.Close()
				return nil, err
			}
		}
		b.Repo, b.ping = repo, repo.Ping

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)

		repo := postgres.NewLogRepository(db, logger, m)
		if cfg.StorageAutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				_ = b.Close()
				return nil, err
			}
		}
		b.Repo, b.ping = repo, repo.Ping

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		b.closers = append(b.closers, client.Close)

		b.cache = redis.NewCachedLogRepository(b.Repo, client, cfg.QueryCacheTTL, logger, m)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis is unreachable, query cache starts disabled", "error", err)
			b.cache.SetAvailable(false)
		}
		b.Repo = b.cache
	}

	logger.Info("storage backend ready", "backend", b.Name, "query_cache", b.cache != nil)
	return b, nil
}
