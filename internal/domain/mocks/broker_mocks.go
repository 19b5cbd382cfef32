package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/logvault/internal/domain"
)

// Published is a message captured by MockBroker.Publish.
type Published struct {
	Exchange   string
	RoutingKey string
	Payload    []byte
}

// Nacked is a negative acknowledgement captured by MockBroker.Nack.
type Nacked struct {
	Message domain.Message
	Requeue bool
}

// MockBroker implements domain.Publisher and domain.Subscriber in memory.
// Consume delivers Deliveries in order and then returns.
type MockBroker struct {
	mu         sync.Mutex
	Exchanges  map[string]string
	Queues     []string
	Bindings   []string
	Published  []Published
	Acked      []domain.Message
	Nacked     []Nacked
	Deliveries []domain.Message
	PublishErr error
	ConsumeErr error
}

func (m *MockBroker) AssertExchange(ctx context.Context, name, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Exchanges == nil {
		m.Exchanges = make(map[string]string)
	}
	m.Exchanges[name] = kind
	return nil
}

func (m *MockBroker) AssertQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queues = append(m.Queues, name)
	return nil
}

func (m *MockBroker) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bindings = append(m.Bindings, queue+"|"+exchange+"|"+routingKey)
	return nil
}

func (m *MockBroker) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, Published{Exchange: exchange, RoutingKey: routingKey, Payload: payload})
	return nil
}

func (m *MockBroker) Consume(ctx context.Context, queue string, handler domain.MessageHandler) error {
	if m.ConsumeErr != nil {
		return m.ConsumeErr
	}
	m.mu.Lock()
	deliveries := append([]domain.Message(nil), m.Deliveries...)
	m.mu.Unlock()
	for _, d := range deliveries {
		if ctx.Err() != nil {
			return nil
		}
		handler(ctx, d)
	}
	return nil
}

func (m *MockBroker) Ack(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, msg)
	return nil
}

func (m *MockBroker) Nack(msg domain.Message, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Nacked = append(m.Nacked, Nacked{Message: msg, Requeue: requeue})
	return nil
}

// AckCount returns the number of acknowledged messages.
func (m *MockBroker) AckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Acked)
}

// NackSnapshot returns a copy of the captured negative acknowledgements.
func (m *MockBroker) NackSnapshot() []Nacked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Nacked(nil), m.Nacked...)
}
