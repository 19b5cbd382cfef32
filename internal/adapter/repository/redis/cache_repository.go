package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

const (
	keyPrefix        = "logvault:logs:"
	generationPrefix = "logvault:generation:"
)

// CachedLogRepository caches partition reads of another domain.LogRepository.
// Redis failures never fail a request: they are logged and the inner
// repository answers.
//
// Entries are keyed by a per-partition generation. Save bumps the generation,
// so a read that loaded before the save can only store its result under a
// generation no later read asks for.
type CachedLogRepository struct {
	inner         domain.LogRepository
	client        *redis.Client
	ttl           time.Duration
	generationTTL time.Duration // outlives every entry stored under a generation
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics
	isAvailable atomic.Bool
}

// NewCachedLogRepository wraps inner with a Redis read cache. m may be nil.
func NewCachedLogRepository(inner domain.LogRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.PipelineMetrics) *CachedLogRepository {
	c := &CachedLogRepository{
		inner:         inner,
		client:        client,
		ttl:           ttl,
		generationTTL: ttl + 24*time.Hour,
		logger:        logger.With("component", "redis_cache"),
		metrics:       m,
	}
	c.isAvailable.Store(true)
	return c
}

// SetAvailable enables or bypasses the cache until the next health check.
func (c *CachedLogRepository) SetAvailable(ok bool) {
	c.isAvailable.Store(ok)
}

// StartHealthCheck pings Redis every interval and re-enables the cache once
// it answers again. It blocks until ctx is done.
func (c *CachedLogRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.client.Ping(ctx).Err(); err != nil {
				if c.isAvailable.CompareAndSwap(true, false) {
					c.logger.Error("redis connection lost, bypassing cache", "error", err)
				}
				continue
			}
			if c.isAvailable.CompareAndSwap(false, true) {
				c.logger.Info("redis connection recovered, cache enabled")
			}
		}
	}
}

// Save writes through to the inner repository and then retires every cached
// view of the record's partition.
func (c *CachedLogRepository) Save(ctx context.Context, record *domain.LogRecord) error {
	if err := c.inner.Save(ctx, record); err != nil {
		return err
	}
	c.invalidate(ctx, record.PartitionDate())
	return nil
}

func (c *CachedLogRepository) FindByDate(ctx context.Context, date string) ([]*domain.LogRecord, error) {
	return c.cached(ctx, date, "", func() ([]*domain.LogRecord, error) {
		return c.inner.FindByDate(ctx, date)
	})
}

func (c *CachedLogRepository) FindByDateAndLevel(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	return c.cached(ctx, date, level, func() ([]*domain.LogRecord, error) {
		return c.inner.FindByDateAndLevel(ctx, date, level)
	})
}

// FindByID is not cached.
func (c *CachedLogRepository) FindByID(ctx context.Context, date, id string) (*domain.LogRecord, error) {
	return c.inner.FindByID(ctx, date, id)
}

// Ping checks the inner repository when it supports it. The cache itself is
// optional and does not affect health.
func (c *CachedLogRepository) Ping(ctx context.Context) error {
	if p, ok := c.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *CachedLogRepository) cached(ctx context.Context, date string, level domain.Level, load func() ([]*domain.LogRecord, error)) ([]*domain.LogRecord, error) {
	var key string
	if c.isAvailable.Load() {
		if gen, ok := c.generation(ctx, date); ok {
			key = partitionKey(date, gen, level)
			if records, ok := c.get(ctx, key); ok {
				c.count(true)
				return records, nil
			}
			c.count(false)
		}
	}

	records, err := load()
	if err != nil {
		return nil, err
	}
	if key != "" && c.isAvailable.Load() {
		c.set(ctx, key, records)
	}
	return records, nil
}

// generation returns the current generation of a partition. A partition
// that was never written through this cache is at generation 0.
func (c *CachedLogRepository) generation(ctx context.Context, date string) (int64, bool) {
	gen, err := c.client.Get(ctx, generationPrefix+date).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.fail("cache generation read failed", generationPrefix+date, err)
		return 0, false
	}
	return gen, true
}

func (c *CachedLogRepository) get(ctx context.Context, key string) ([]*domain.LogRecord, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.fail("cache read failed", key, err)
		}
		return nil, false
	}

	var entries []cacheEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false
	}
	records := make([]*domain.LogRecord, 0, len(entries))
	for _, e := range entries {
		record, err := e.toRecord()
		if err != nil {
			c.logger.Warn("dropping invalid cache entry", "key", key, "error", err)
			c.client.Del(ctx, key)
			return nil, false
		}
		records = append(records, record)
	}
	return records, true
}

func (c *CachedLogRepository) set(ctx context.Context, key string, records []*domain.LogRecord) {
	entries := make([]cacheEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, newCacheEntry(r))
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.fail("cache write failed", key, err)
	}
}

func (c *CachedLogRepository) invalidate(ctx context.Context, date string) {
	if !c.isAvailable.Load() {
		return
	}
	key := generationPrefix + date
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.generationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.fail("cache invalidation failed", key, err)
	}
}

func (c *CachedLogRepository) fail(msg, key string, err error) {
	if isNetworkError(err) && c.isAvailable.CompareAndSwap(true, false) {
		c.logger.Error("redis connection lost, bypassing cache", "error", err)
		return
	}
	c.logger.Warn(msg, "key", key, "error", err)
}

func (c *CachedLogRepository) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.Inc()
	} else {
		c.metrics.CacheMisses.Inc()
	}
}

func partitionKey(date string, gen int64, level domain.Level) string {
	key := keyPrefix + date + ":v" + strconv.FormatInt(gen, 10)
	if level == "" {
		return key
	}
	return key + ":" + string(level)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// cacheEntry keeps the timestamp in RFC 3339 with its offset, so a decoded
// record reports the partition it was stored under.
type cacheEntry struct {
	ID        string         `json:"id"`
	Level     domain.Level   `json:"level"`
	Message   string         `json:"message"`
	Context   string         `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

func newCacheEntry(r *domain.LogRecord) cacheEntry {
	return cacheEntry{
		ID:        r.ID(),
		Level:     r.Level(),
		Message:   r.Message(),
		Context:   r.Context(),
		Timestamp: r.Timestamp(),
		Metadata:  r.Metadata(),
	}
}

func (e cacheEntry) toRecord() (*domain.LogRecord, error) {
	return domain.NewLogRecord(domain.LogParams{
		ID:        e.ID,
		Level:     e.Level,
		Message:   e.Message,
		Context:   e.Context,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
	})
}
