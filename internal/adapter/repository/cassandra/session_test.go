package cassandra

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

type storedRow struct {
	id       gocql.UUID
	level    string
	message  string
	context  string
	ts       time.Time
	offset   int
	metadata string
}

// memorySession executes the repository's statements against an in-memory
// table keyed like the real one: (partition_date, timestamp, id).
type memorySession struct {
	mu      sync.Mutex
	stmts   statements
	rows    map[string][]storedRow
	execs   []Statement
	batches [][]Statement

	lookupErr error
	scanErr   error
}

func newMemorySession(keyspace string) *memorySession {
	return &memorySession{stmts: newStatements(keyspace), rows: make(map[string][]storedRow)}
}

func (m *memorySession) Exec(ctx context.Context, stmt Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, stmt)
	return m.apply(stmt)
}

func (m *memorySession) QueryRow(ctx context.Context, stmt Statement, dest ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	date, id := stmt.Args[0].(string), stmt.Args[1].(gocql.UUID)
	switch stmt.CQL {
	case m.stmts.lookupTS:
		if m.lookupErr != nil {
			return m.lookupErr
		}
		for _, r := range m.rows[date] {
			if r.id == id {
				*dest[0].(*time.Time) = r.ts
				return nil
			}
		}
	case m.stmts.selectByID:
		for _, r := range m.rows[date] {
			if r.id == id {
				fill(r, dest)
				return nil
			}
		}
	default:
		return errors.New("unexpected statement: " + stmt.CQL)
	}
	return gocql.ErrNotFound
}

func (m *memorySession) Query(ctx context.Context, stmt Statement) Scanner {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append([]storedRow(nil), m.rows[stmt.Args[0].(string)]...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ts.Equal(rows[j].ts) {
			return rows[i].ts.After(rows[j].ts)
		}
		return rows[i].id.String() < rows[j].id.String()
	})
	return &memoryScanner{rows: rows, pos: -1, err: m.scanErr}
}

func (m *memorySession) LoggedBatch(ctx context.Context, stmts ...Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, stmts)
	for _, stmt := range stmts {
		if err := m.apply(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *memorySession) Close() {}

// count returns the rows stored under id in a partition.
func (m *memorySession) count(date string, id gocql.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows[date] {
		if r.id == id {
			n++
		}
	}
	return n
}

func (m *memorySession) apply(stmt Statement) error {
	a := stmt.Args
	switch stmt.CQL {
	case m.stmts.insert:
		date := a[0].(string)
		// the driver stores instants with millisecond precision and returns them in UTC
		row := storedRow{
			id: a[1].(gocql.UUID), level: a[2].(string), message: a[3].(string), context: a[4].(string),
			ts: a[5].(time.Time).UTC(), offset: a[6].(int), metadata: a[7].(string),
		}
		m.remove(date, row.ts, row.id)
		m.rows[date] = append(m.rows[date], row)
	case m.stmts.deleteRow:
		m.remove(a[0].(string), a[1].(time.Time), a[2].(gocql.UUID))
	}
	return nil
}

func (m *memorySession) remove(date string, ts time.Time, id gocql.UUID) {
	kept := m.rows[date][:0]
	for _, r := range m.rows[date] {
		if r.id == id && r.ts.Equal(ts) {
			continue
		}
		kept = append(kept, r)
	}
	m.rows[date] = kept
}

func fill(r storedRow, dest []any) {
	*dest[0].(*gocql.UUID) = r.id
	*dest[1].(*string) = r.level
	*dest[2].(*string) = r.message
	*dest[3].(*string) = r.context
	*dest[4].(*time.Time) = r.ts
	*dest[5].(*int) = r.offset
	*dest[6].(*string) = r.metadata
}

type memoryScanner struct {
	rows []storedRow
	pos  int
	err  error
}

func (s *memoryScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.pos++
	return s.pos < len(s.rows)
}

func (s *memoryScanner) Scan(dest ...any) error {
	fill(s.rows[s.pos], dest)
	return nil
}

func (s *memoryScanner) Err() error { return s.err }
