package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
	"github.com/V4T54L/logvault/internal/domain/mocks"
)

// countingRepo counts reads that reach the inner repository.
// afterRead, when set, runs once after the next FindByDate loaded its result.
type countingRepo struct {
	mocks.MockLogRepository
	reads     int
	afterRead func()
}

func (r *countingRepo) FindByDate(ctx context.Context, date string) ([]*domain.LogRecord, error) {
	r.reads++
	records, err := r.MockLogRepository.FindByDate(ctx, date)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return records, err
}

func (r *countingRepo) FindByDateAndLevel(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	r.reads++
	return r.MockLogRepository.FindByDateAndLevel(ctx, date, level)
}

func setupCache(t *testing.T, ttl time.Duration) (*CachedLogRepository, *countingRepo, *miniredis.Miniredis, *metrics.PipelineMetrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &countingRepo{}
	m := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCachedLogRepository(inner, client, ttl, logger, m), inner, mr, m
}

func record(t *testing.T, id string, level domain.Level, ts time.Time) *domain.LogRecord {
	t.Helper()
	r, err := domain.NewLogRecord(domain.LogParams{ID: id, Level: level, Message: "cached", Timestamp: ts, Metadata: map[string]any{"n": 1.5}})
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	return r
}

func TestCachedLogRepository_HitAndMiss(t *testing.T) {
	cache, inner, mr, m := setupCache(t, time.Minute)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.Local)
	_ = inner.MockLogRepository.Save(ctx, record(t, "00000000-0000-0000-0000-0000000000a1", domain.LevelInfo, ts))
	_ = inner.MockLogRepository.Save(ctx, record(t, "00000000-0000-0000-0000-0000000000a2", domain.LevelError, ts.Add(time.Second)))

	first, err := cache.FindByDate(ctx, "2024-03-10")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := cache.FindByDate(ctx, "2024-03-10")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if inner.reads != 1 {
		t.Errorf("expected one inner read, got %d", inner.reads)
	}
	if !mr.Exists("logvault:logs:2024-03-10:v0") {
		t.Error("expected partition key to be cached")
	}
	if len(second) != len(first) || second[0].ID() != first[0].ID() {
		t.Fatalf("cached result differs from source: %v vs %v", second, first)
	}
	if !second[0].Timestamp().Equal(first[0].Timestamp()) || second[0].PartitionDate() != first[0].PartitionDate() {
		t.Error("cached record timestamp or partition differs")
	}
	if second[0].Metadata()["n"] != 1.5 {
		t.Errorf("unexpected cached metadata %v", second[0].Metadata())
	}
	if testutil.ToFloat64(m.CacheHits) != 1 || testutil.ToFloat64(m.CacheMisses) != 1 {
		t.Errorf("unexpected hit/miss counters %v/%v", testutil.ToFloat64(m.CacheHits), testutil.ToFloat64(m.CacheMisses))
	}
}

func TestCachedLogRepository_SaveInvalidates(t *testing.T) {
	cache, inner, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.Local)

	if _, err := cache.FindByDate(ctx, "2024-03-10"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := cache.FindByDateAndLevel(ctx, "2024-03-10", domain.LevelWarn); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !mr.Exists("logvault:logs:2024-03-10:v0:WARN") {
		t.Fatal("expected level key to be cached")
	}

	if err := cache.Save(ctx, record(t, "00000000-0000-0000-0000-0000000000b1", domain.LevelWarn, ts)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gen, err := mr.Get("logvault:generation:2024-03-10"); err != nil || gen != "1" {
		t.Errorf("expected partition generation 1, got %q (%v)", gen, err)
	}

	logs, _ := cache.FindByDateAndLevel(ctx, "2024-03-10", domain.LevelWarn)
	if len(logs) != 1 {
		t.Errorf("expected fresh read after save, got %d records", len(logs))
	}
	if inner.reads != 3 {
		t.Errorf("expected 3 inner reads, got %d", inner.reads)
	}
}

func TestCachedLogRepository_TTL(t *testing.T) {
	cache, inner, mr, _ := setupCache(t, 10*time.Second)
	ctx := context.Background()

	_, _ = cache.FindByDate(ctx, "2024-03-11")
	mr.FastForward(11 * time.Second)
	_, _ = cache.FindByDate(ctx, "2024-03-11")

	if inner.reads != 2 {
		t.Errorf("expected expired entry to be reloaded, got %d inner reads", inner.reads)
	}
}

func TestCachedLogRepository_RedisDown(t *testing.T) {
	cache, inner, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	ts := time.Date(2024, 3, 12, 8, 0, 0, 0, time.Local)
	mr.Close()

	if err := cache.Save(ctx, record(t, "00000000-0000-0000-0000-0000000000c1", domain.LevelDebug, ts)); err != nil {
		t.Fatalf("save must not fail when redis is down, got %v", err)
	}
	logs, err := cache.FindByDate(ctx, "2024-03-12")
	if err != nil {
		t.Fatalf("read must not fail when redis is down, got %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("expected inner repository to answer, got %d records", len(logs))
	}
	if inner.reads != 1 {
		t.Errorf("expected 1 inner read, got %d", inner.reads)
	}
}

func TestCachedLogRepository_InnerErrors(t *testing.T) {
	cache, inner, mr, _ := setupCache(t, time.Minute)
	inner.FindErr = errors.New("read timeout")

	if _, err := cache.FindByDate(context.Background(), "2024-03-13"); err == nil {
		t.Fatal("expected inner error to be returned")
	}
	if mr.Exists("logvault:logs:2024-03-13:v0") {
		t.Error("failed reads must not be cached")
	}
}

func TestCachedLogRepository_SaveDuringRead(t *testing.T) {
	cache, inner, _, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	ts := time.Date(2024, 3, 14, 8, 0, 0, 0, time.Local)

	// the save lands after the read loaded an empty partition but before it
	// stores that result in the cache
	inner.afterRead = func() {
		if err := cache.Save(ctx, record(t, "00000000-0000-0000-0000-0000000000d1", domain.LevelInfo, ts)); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	}
	stale, err := cache.FindByDate(ctx, "2024-03-14")
	if err != nil || len(stale) != 0 {
		t.Fatalf("expected the racing read to see the empty partition, got (%v, %v)", stale, err)
	}

	fresh, err := cache.FindByDate(ctx, "2024-03-14")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("expected the saved record after the racing read, got %d records", len(fresh))
	}
}

func TestCachedLogRepository_KeepsWrittenZone(t *testing.T) {
	cache, inner, _, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	jst := time.FixedZone("JST", 9*60*60)
	written := record(t, "00000000-0000-0000-0000-0000000000e1", domain.LevelInfo, time.Date(2024, 1, 2, 2, 0, 0, 0, jst))
	_ = inner.MockLogRepository.Save(ctx, written)

	_, _ = cache.FindByDate(ctx, "2024-01-02")
	cached, err := cache.FindByDate(ctx, "2024-01-02")
	if err != nil || len(cached) != 1 {
		t.Fatalf("expected one cached record, got (%v, %v)", cached, err)
	}
	if inner.reads != 1 {
		t.Fatalf("expected the second read to be served from cache, got %d inner reads", inner.reads)
	}
	if cached[0].PartitionDate() != "2024-01-02" || !cached[0].Timestamp().Equal(written.Timestamp()) {
		t.Errorf("cached record moved to %s at %v", cached[0].PartitionDate(), cached[0].Timestamp())
	}
}
