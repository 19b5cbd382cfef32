package domain

import "context"

// LogRepository persists log records in date partitions. Implementations are
// interchangeable: the Cassandra and PostgreSQL adapters return identical
// records for identical data.
type LogRepository interface {
	// Save upserts a record keyed by partition date and id.
	Save(ctx context.Context, record *LogRecord) error

	// FindByDate returns every record of a partition, newest first with id
	// ascending as tiebreak. An empty partition yields an empty slice.
	FindByDate(ctx context.Context, date string) ([]*LogRecord, error)

	// FindByDateAndLevel is FindByDate restricted to one level, in the same order.
	FindByDateAndLevel(ctx context.Context, date string, level Level) ([]*LogRecord, error)

	// FindByID looks a record up within one partition. A miss returns (nil, nil).
	// If the stored metadata is malformed the record is returned with empty
	// metadata together with a *MetadataError.
	FindByID(ctx context.Context, date, id string) (*LogRecord, error)
}

// DeadLetterRepository keeps messages the consumer gave up on so they can be
// replayed once the backend recovers.
type DeadLetterRepository interface {
	// Write appends a dead letter to the log.
	Write(ctx context.Context, letter DeadLetter) error

	// Replay calls handler for every stored dead letter in write order and
	// stops at the first handler error.
	Replay(ctx context.Context, handler func(letter DeadLetter) error) error

	// Truncate removes every stored dead letter.
	Truncate(ctx context.Context) error
}
