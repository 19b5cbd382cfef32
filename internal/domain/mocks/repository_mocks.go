package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/V4T54L/logvault/internal/domain"
)

// MockLogRepository is an in-memory domain.LogRepository for testing. It keeps
// the ordering contract of the real backends.
type MockLogRepository struct {
	mu         sync.Mutex
	partitions map[string]map[string]*domain.LogRecord
	SaveCalls  int
	SaveErr    error
	FindErr    error
}

func (m *MockLogRepository) Save(ctx context.Context, record *domain.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.partitions == nil {
		m.partitions = make(map[string]map[string]*domain.LogRecord)
	}
	p, ok := m.partitions[record.PartitionDate()]
	if !ok {
		p = make(map[string]*domain.LogRecord)
		m.partitions[record.PartitionDate()] = p
	}
	p[record.ID()] = record
	return nil
}

func (m *MockLogRepository) FindByDate(ctx context.Context, date string) ([]*domain.LogRecord, error) {
	return m.find(date, "")
}

func (m *MockLogRepository) FindByDateAndLevel(ctx context.Context, date string, level domain.Level) ([]*domain.LogRecord, error) {
	return m.find(date, level)
}

func (m *MockLogRepository) FindByID(ctx context.Context, date, id string) (*domain.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	return m.partitions[date][id], nil
}

// Len returns the number of stored records across all partitions.
func (m *MockLogRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.partitions {
		n += len(p)
	}
	return n
}

func (m *MockLogRepository) find(date string, level domain.Level) ([]*domain.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	records := make([]*domain.LogRecord, 0, len(m.partitions[date]))
	for _, r := range m.partitions[date] {
		if level != "" && r.Level() != level {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		ti, tj := records[i].Timestamp(), records[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].ID() < records[j].ID()
	})
	return records, nil
}

// MockDeadLetterRepository is an in-memory domain.DeadLetterRepository.
type MockDeadLetterRepository struct {
	mu          sync.Mutex
	Letters     []domain.DeadLetter
	WriteErr    error
	Truncations int
}

func (m *MockDeadLetterRepository) Write(ctx context.Context, letter domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Letters = append(m.Letters, letter)
	return nil
}

func (m *MockDeadLetterRepository) Replay(ctx context.Context, handler func(letter domain.DeadLetter) error) error {
	m.mu.Lock()
	letters := append([]domain.DeadLetter(nil), m.Letters...)
	m.mu.Unlock()
	for _, l := range letters {
		if err := handler(l); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDeadLetterRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Letters = nil
	m.Truncations++
	return nil
}
