package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultContext is assigned to records created without a context.
const DefaultContext = "default"

// PartitionDateLayout is the layout of a record's partition key.
const PartitionDateLayout = "2006-01-02"

// Level is the severity of a log record.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Levels lists every level from least to most severe.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// Rank returns the position of l in Levels, or -1 for an unknown level.
func (l Level) Rank() int {
	for i, known := range Levels {
		if l == known {
			return i
		}
	}
	return -1
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown level %q", ErrValidation, s)
	}
	return l, nil
}

// LogParams carries the fields a LogRecord is built from. Zero values select
// the defaults: a fresh id, the "default" context, the current time and empty
// metadata.
type LogParams struct {
	ID        string
	Level     Level
	Message   string
	Context   string
	Timestamp time.Time
	Metadata  map[string]any
}

// LogRecord is an immutable log event. Its partition date is derived from the
// timestamp and cannot be set independently.
type LogRecord struct {
	id            string
	level         Level
	message       string
	context       string
	timestamp     time.Time
	metadata      map[string]any
	partitionDate string
}

// NewLogRecord validates p, applies defaults and returns the record.
// Timestamps are truncated to millisecond precision, the finest resolution
// every storage backend keeps.
func NewLogRecord(p LogParams) (*LogRecord, error) {
	if !p.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", ErrValidation, p.Level)
	}
	if p.Message == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ErrValidation)
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id %q is not a UUID", ErrValidation, id)
	}

	ctxName := p.Context
	if ctxName == "" {
		ctxName = DefaultContext
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.Truncate(time.Millisecond)

	metadata := make(map[string]any, len(p.Metadata))
	maps.Copy(metadata, p.Metadata)

	return &LogRecord{
		id:            id,
		level:         p.Level,
		message:       p.Message,
		context:       ctxName,
		timestamp:     ts,
		metadata:      metadata,
		partitionDate: PartitionDate(ts),
	}, nil
}

// PartitionDate formats t as YYYY-MM-DD using t's own calendar fields.
func PartitionDate(t time.Time) string {
	return t.Format(PartitionDateLayout)
}

// ZoneOffset returns the UTC offset of t in seconds. Backends persist it next
// to the instant so the record's calendar fields, and with them its partition,
// survive a round trip.
func ZoneOffset(t time.Time) int {
	_, offset := t.Zone()
	return offset
}

// RestoreTimestamp places an instant read from storage back into the zone it
// was written with. time.Local is used when it has the same offset at t.
func RestoreTimestamp(t time.Time, offset int) time.Time {
	local := t.In(time.Local)
	if ZoneOffset(local) == offset {
		return local
	}
	return t.In(time.FixedZone("", offset))
}

// ValidPartitionDate reports whether s is a well-formed partition date.
func ValidPartitionDate(s string) bool {
	if len(s) != len(PartitionDateLayout) {
		return false
	}
	_, err := time.Parse(PartitionDateLayout, s)
	return err == nil
}

func (r *LogRecord) ID() string           { return r.id }
func (r *LogRecord) Level() Level         { return r.level }
func (r *LogRecord) Message() string      { return r.message }
func (r *LogRecord) Context() string      { return r.context }
func (r *LogRecord) Timestamp() time.Time { return r.timestamp }
func (r *LogRecord) PartitionDate() string {
	return r.partitionDate
}

// Metadata returns a shallow copy of the record's metadata.
func (r *LogRecord) Metadata() map[string]any {
	return maps.Clone(r.metadata)
}
