package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

const backendName = "cassandra"

// Options configures the cluster session.
type Options struct {
	ContactPoints []string
	LocalDC       string
	Keyspace      string
	Timeout       time.Duration
}

// Statement is one CQL statement with its bind values.
type Statement struct {
	CQL  string
	Args []any
}

// Scanner iterates the rows of a query. Err releases the iterator.
type Scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Session is the part of a cluster session the repository needs.
type Session interface {
	Exec(ctx context.Context, stmt Statement) error
	// QueryRow scans the first row into dest and returns gocql.ErrNotFound
	// when there is none.
	QueryRow(ctx context.Context, stmt Statement, dest ...any) error
	Query(ctx context.Context, stmt Statement) Scanner
	LoggedBatch(ctx context.Context, stmts ...Statement) error
	Close()
}

// NewSession connects to the cluster. Statements are keyspace-qualified, so
// the session is not bound to a keyspace and can create it.
func NewSession(opts Options) (Session, error) {
	cluster := gocql.NewCluster(opts.ContactPoints...)
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	if opts.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(opts.LocalDC))
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cassandra: %w", err)
	}
	return &gocqlSession{session: session}, nil
}

type gocqlSession struct {
	session *gocql.Session
}

func (g *gocqlSession) Exec(ctx context.Context, stmt Statement) error {
	return g.session.Query(stmt.CQL, stmt.Args...).WithContext(ctx).Exec()
}

func (g *gocqlSession) QueryRow(ctx context.Context, stmt Statement, dest ...any) error {
	return g.session.Query(stmt.CQL, stmt.Args...).WithContext(ctx).Scan(dest...)
}

func (g *gocqlSession) Query(ctx context.Context, stmt Statement) Scanner {
	return g.session.Query(stmt.CQL, stmt.Args...).WithContext(ctx).Iter().Scanner()
}

func (g *gocqlSession) LoggedBatch(ctx context.Context, stmts ...Statement) error {
	batch := g.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, stmt := range stmts {
		batch.Query(stmt.CQL, stmt.Args...)
	}
	return g.session.ExecuteBatch(batch)
}

func (g *gocqlSession) Close() {
	g.session.Close()
}

type statements struct {
	createKeyspace string
	createTable    string
	insert         string
	deleteRow      string
	lookupTS       string
	selectByDate   string
	selectByID     string
}

func newStatements(keyspace string) statements {
	table := keyspace + ".logs"
	cols := "id, level, message, context, timestamp, tz_offset, metadata"
	return statements{
		createKeyspace: "CREATE KEYSPACE IF NOT EXISTS " + keyspace +
			" WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}",
		createTable: "CREATE TABLE IF NOT EXISTS " + table + ` (
	partition_date text,
	id uuid,
	level text,
	message text,
	context text,
	timestamp timestamp,
	tz_offset int,
	metadata text,
	PRIMARY KEY ((partition_date), timestamp, id)
) WITH CLUSTERING ORDER BY (timestamp DESC, id ASC)`,
		insert:       "INSERT INTO " + table + " (partition_date, id, level, message, context, timestamp, tz_offset, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		deleteRow:    "DELETE FROM " + table + " WHERE partition_date = ? AND timestamp = ? AND id = ?",
		lookupTS:     "SELECT timestamp FROM " + table + " WHERE partition_date = ? AND id = ? ALLOW FILTERING",
		selectByDate: "SELECT " + cols + " FROM " + table + " WHERE partition_date = ?",
		selectByID:   "SELECT " + cols + " FROM " + table + " WHERE partition_date = ? AND id = ? ALLOW FILTERING",
	}
}

// LogRepository implements domain.LogRepository on a Cassandra table whose
// clustering order already matches the read ordering.
type LogRepository struct {
	session Session
	stmts   statements
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

// NewLogRepository creates a new Cassandra log repository. m may be nil.
func NewLogRepository(session Session, keyspace string, logger *slog.Logger, m *metrics.PipelineMetrics) *LogRepository {
	return &LogRepository{
		session: session,
		stmts:   newStatements(keyspace),
		logger:  logger.With("component", "cassandra_repository"),
		metrics: m,
	}
}

// EnsureSchema creates the keyspace and table when missing.
func (r *LogRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{r.stmts.createKeyspace, r.stmts.createTable} {
		if err := r.session.Exec(ctx, Statement{CQL: stmt}); err != nil {
			return fmt.Errorf("failed to create cassandra schema: %w", err)
		}
	}
	return nil
}

// Ping reports whether a coordinator answers.
func (r *LogRepository) Ping(ctx context.Context) error {
	return r.session.Exec(ctx, Statement{CQL: "SELECT release_version FROM system.local"})
}

// Save upserts record. The table is keyed by timestamp as well as id, so a
// row for the same id under another timestamp is deleted in the same logged
// batch.
func (r *LogRepository) Save(ctx context.Context, record *domain.LogRecord) error {
	id, err := gocql.ParseUUID(record.ID())
	if err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", domain.ErrValidation, record.ID())
	}
	metadata, err := domain.EncodeMetadata(record.Metadata())
	if err != nil {
		return err
	}
	date := record.PartitionDate()

	var existing time.Time
	err = r.session.QueryRow(ctx, Statement{CQL: r.stmts.lookupTS, Args: []any{date, id}}, &existing)
	switch {
	case errors.Is(err, gocql.ErrNotFound):
	case err != nil:
		return fmt.Errorf("%w: failed to look up log %s: %w", domain.ErrStorageWrite, record.ID(), err)
	}

	insert := Statement{
		CQL:  r.stmts.insert,
		Args: []any{date, id, string(record.Level()), record.Message(), record.Context(), record.Timestamp(), domain.ZoneOffset(record.Timestamp()), metadata},
	}
	if existing.IsZero() || existing.Equal(record.Timestamp()) {
		if err := r.session.Exec(ctx, insert); err != nil {
			return fmt.Errorf("%w: failed to insert log %s: %w", domain.ErrStorageWrite, record.ID(), err)
		}
		return nil
	}

	remove := Statement{CQL: r.stmts.deleteRow, Args: []any{date, existing, id}}
	if err := r.session.LoggedBatch(ctx, remove, insert); err != nil {
		return fmt.Errorf("%w: failed to replace log %s: %w", domain.ErrStorageWrite, record.ID(), err)
	}
	return nil
}

func (r *LogRepository) FindByDate(ctx context.Context, date string) ([]*domain.LogRecord, error) {
	return r.scanPartition(ctx, date, "")
}

// FindByDateAndLevel filters the partition scan client-side, which keeps the
// clustering order intact.
func (r *LogRepository) FindByDateAndLevel(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	return r.scanPartition(ctx, date, level)
}

func (r *LogRepository) FindByID(ctx context.Context, date, id string) (*domain.LogRecord, error) {
	uid, err := gocql.ParseUUID(id)
	if err != nil {
		return nil, nil
	}
	var row logRow
	err = r.session.QueryRow(ctx, Statement{CQL: r.stmts.selectByID, Args: []any{date, uid}}, row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find log %s: %w", domain.ErrStorageRead, id, err)
	}
	return row.toRecord()
}

func (r *LogRepository) scanPartition(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	scanner := r.session.Query(ctx, Statement{CQL: r.stmts.selectByDate, Args: []any{date}})

	rows := make([]logRow, 0)
	for scanner.Next() {
		var row logRow
		if err := scanner.Scan(row.dest()...); err != nil {
			_ = scanner.Err()
			return nil, fmt.Errorf("%w: failed to scan log row: %w", domain.ErrStorageRead, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read partition %s: %w", domain.ErrStorageRead, date, err)
	}
	return r.collect(rows, level)
}

// collect maps rows to records, dropping rows of other levels and rows whose
// metadata does not decode.
func (r *LogRepository) collect(rows []logRow, level domain.Level) ([]*domain.LogRecord, error) {
	records := make([]*domain.LogRecord, 0, len(rows))
	for _, row := range rows {
		if level != "" && domain.Level(row.Level) != level {
			continue
		}
		record, err := row.toRecord()
		var mdErr *domain.MetadataError
		if errors.As(err, &mdErr) {
			r.logger.Warn("skipping log with malformed metadata", "id", mdErr.ID, "error", mdErr.Err)
			if r.metrics != nil {
				r.metrics.MalformedRecordsTotal.WithLabelValues(backendName).Inc()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStorageRead, err)
		}
		records = append(records, record)
	}
	return records, nil
}

type logRow struct {
	ID        gocql.UUID
	Level     string
	Message   string
	Context   string
	Timestamp time.Time
	Offset    int
	Metadata  string
}

func (row *logRow) dest() []any {
	return []any{&row.ID, &row.Level, &row.Message, &row.Context, &row.Timestamp, &row.Offset, &row.Metadata}
}

// toRecord returns the record with empty metadata and a *domain.MetadataError
// when the stored metadata is malformed.
func (row logRow) toRecord() (*domain.LogRecord, error) {
	metadata, decodeErr := domain.DecodeMetadata([]byte(row.Metadata))
	record, err := domain.NewLogRecord(domain.LogParams{
		ID:        row.ID.String(),
		Level:     domain.Level(row.Level),
		Message:   row.Message,
		Context:   row.Context,
		Timestamp: domain.RestoreTimestamp(row.Timestamp, row.Offset),
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("stored log %s is invalid: %w", row.ID, err)
	}
	if decodeErr != nil {
		return record, &domain.MetadataError{ID: row.ID.String(), Err: decodeErr}
	}
	return record, nil
}
