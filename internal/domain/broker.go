package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Topology names the exchange, queue and routing key that bind the log
// producer to the log consumer.
type Topology struct {
	Exchange     string
	ExchangeKind string
	Queue        string
	RoutingKey   string
}

// LogTopology is the single logical stream logs travel through.
var LogTopology = Topology{
	Exchange:     "logs_exchange",
	ExchangeKind: "topic",
	Queue:        "logs_queue",
	RoutingKey:   "log.create",
}

// Message is one delivery received from the broker.
type Message struct {
	DeliveryTag uint64
	MessageID   string
	ContentType string
	Redelivered bool
	Timestamp   time.Time
	Body        []byte
}

// MessageHandler processes one delivery. It owns the ack/nack decision.
type MessageHandler func(ctx context.Context, msg Message)

// TopologyDeclarer declares durable exchanges, queues and bindings.
type TopologyDeclarer interface {
	AssertExchange(ctx context.Context, name, kind string) error
	AssertQueue(ctx context.Context, name string) error
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error
}

// Publisher sends payloads to an exchange.
type Publisher interface {
	TopologyDeclarer
	// Publish returns ErrPublishRejected when the message could not leave the
	// process and ErrChannelNotReady before the connection is established.
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error
}

// Subscriber delivers messages from a queue with manual acknowledgement.
type Subscriber interface {
	TopologyDeclarer
	// Consume blocks, calling handler once per delivery, until ctx is done or
	// the delivery stream ends.
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Ack(msg Message) error
	Nack(msg Message, requeue bool) error
}

// DeadLetter is a consumer payload that could not be persisted.
type DeadLetter struct {
	MessageID string          `json:"message_id,omitempty"`
	Reason    string          `json:"reason"`
	FailedAt  time.Time       `json:"failed_at"`
	Payload   json.RawMessage `json:"payload"`
}
