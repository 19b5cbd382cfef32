package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

const backendName = "postgres"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS logs (
	partition_date VARCHAR(10)  NOT NULL,
	id             UUID         NOT NULL,
	level          VARCHAR(10)  NOT NULL,
	message        TEXT         NOT NULL,
	context        VARCHAR(100) NOT NULL,
	timestamp      TIMESTAMPTZ  NOT NULL,
	tz_offset      INTEGER      NOT NULL DEFAULT 0,
	metadata       JSONB        NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (partition_date, id)
);
ALTER TABLE logs ADD COLUMN IF NOT EXISTS tz_offset INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS logs_partition_timestamp_idx ON logs (partition_date, timestamp DESC, id ASC);`

const upsertSQL = `
INSERT INTO logs (partition_date, id, level, message, context, timestamp, tz_offset, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (partition_date, id) DO UPDATE SET
	level = EXCLUDED.level,
	message = EXCLUDED.message,
	context = EXCLUDED.context,
	timestamp = EXCLUDED.timestamp,
	tz_offset = EXCLUDED.tz_offset,
	metadata = EXCLUDED.metadata`

const selectColumns = `SELECT id, level, message, context, timestamp, tz_offset, metadata FROM logs`

const (
	findByDateSQL         = selectColumns + ` WHERE partition_date = $1 ORDER BY timestamp DESC, id ASC`
	findByDateAndLevelSQL = selectColumns + ` WHERE partition_date = $1 AND level = $2 ORDER BY timestamp DESC, id ASC`
	findByIDSQL           = selectColumns + ` WHERE partition_date = $1 AND id = $2`
)

// LogRepository implements domain.LogRepository on PostgreSQL.
type LogRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

// NewLogRepository creates a new PostgreSQL log repository. m may be nil.
func NewLogRepository(db *sql.DB, logger *slog.Logger, m *metrics.PipelineMetrics) *LogRepository {
	return &LogRepository{
		db:      db,
		logger:  logger.With("component", "postgres_repository"),
		metrics: m,
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the logs table and its index when missing.
func (r *LogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create logs schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *LogRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save upserts record by (partition_date, id).
func (r *LogRepository) Save(ctx context.Context, record *domain.LogRecord) error {
	metadata, err := domain.EncodeMetadata(record.Metadata())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, upsertSQL,
		record.PartitionDate(),
		record.ID(),
		string(record.Level()),
		record.Message(),
		record.Context(),
		record.Timestamp(),
		domain.ZoneOffset(record.Timestamp()),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert log %s: %w", domain.ErrStorageWrite, record.ID(), describe(err))
	}
	return nil
}

func (r *LogRepository) FindByDate(ctx context.Context, date string) ([]*domain.LogRecord, error) {
	return r.query(ctx, findByDateSQL, date)
}

func (r *LogRepository) FindByDateAndLevel(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	return r.query(ctx, findByDateAndLevelSQL, date, string(level))
}

func (r *LogRepository) FindByID(ctx context.Context, date, id string) (*domain.LogRecord, error) {
	row := r.db.QueryRowContext(ctx, findByIDSQL, date, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	var mdErr *domain.MetadataError
	if errors.As(err, &mdErr) {
		return record, err
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			// malformed uuid literal: nothing can match
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to find log %s: %w", domain.ErrStorageRead, id, err)
	}
	return record, nil
}

func (r *LogRepository) query(ctx context.Context, query string, args ...any) ([]*domain.LogRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query logs: %w", domain.ErrStorageRead, err)
	}
	defer rows.Close()

	records := make([]*domain.LogRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		var mdErr *domain.MetadataError
		if errors.As(err, &mdErr) {
			r.logger.Warn("skipping log with malformed metadata", "id", mdErr.ID, "error", mdErr.Err)
			if r.metrics != nil {
				r.metrics.MalformedRecordsTotal.WithLabelValues(backendName).Inc()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan log row: %w", domain.ErrStorageRead, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate logs: %w", domain.ErrStorageRead, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord maps one row. A metadata decode failure returns the record with
// empty metadata and a *domain.MetadataError.
func scanRecord(s scanner) (*domain.LogRecord, error) {
	var (
		id, level, message, logContext string
		ts                             time.Time
		offset                         int
		rawMetadata                    []byte
	)
	if err := s.Scan(&id, &level, &message, &logContext, &ts, &offset, &rawMetadata); err != nil {
		return nil, err
	}

	metadata, decodeErr := domain.DecodeMetadata(rawMetadata)
	record, err := domain.NewLogRecord(domain.LogParams{
		ID:        id,
		Level:     domain.Level(level),
		Message:   message,
		Context:   logContext,
		Timestamp: domain.RestoreTimestamp(ts, offset),
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("stored log %s is invalid: %w", id, err)
	}
	if decodeErr != nil {
		return record, &domain.MetadataError{ID: id, Err: decodeErr}
	}
	return record, nil
}

func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
