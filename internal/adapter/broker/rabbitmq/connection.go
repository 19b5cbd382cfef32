package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

// ErrDeliveryStreamClosed is returned by Consume when the broker closed the
// delivery stream before the caller cancelled.
var ErrDeliveryStreamClosed = errors.New("delivery stream closed")

// Channel is the part of *amqp.Channel the connection uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// Transport is an open broker connection.
type Transport interface {
	Channel() (Channel, error)
	Close() error
}

// DialFunc opens a Transport to url.
type DialFunc func(url string) (Transport, error)

// Options configures the connection.
type Options struct {
	URL           string
	Attempts      int
	Delay         time.Duration
	PublishBuffer int
	Prefetch      int
}

// Connection owns one AMQP connection and one channel. Every operation
// issued before Connect succeeded returns domain.ErrChannelNotReady.
type Connection struct {
	opts    Options
	dial    DialFunc
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	slots   chan struct{}

	connectMu sync.Mutex // held for a whole bootstrap
	mu        sync.RWMutex
	transport Transport
	channel   Channel
	exhausted bool
}

// New creates an unconnected Connection. m may be nil.
func New(opts Options, logger *slog.Logger, m *metrics.PipelineMetrics) *Connection {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.PublishBuffer < 1 {
		opts.PublishBuffer = 1
	}
	return &Connection{
		opts:    opts,
		dial:    dialAMQP,
		sleep:   sleepContext,
		logger:  logger.With("component", "rabbitmq"),
		metrics: m,
		slots:   make(chan struct{}, opts.PublishBuffer),
	}
}

// Connect dials the broker and opens the channel, retrying up to
// Options.Attempts times with Options.Delay between attempts. Once every
// attempt failed it returns domain.ErrBootstrapExhausted and never dials
// again. Concurrent callers wait for the bootstrap in progress and share
// its outcome.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	ready, exhausted := c.channel != nil, c.exhausted
	c.mu.RUnlock()
	if ready {
		return nil
	}
	if exhausted {
		return domain.ErrBootstrapExhausted
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if c.metrics != nil {
			c.metrics.BrokerConnectAttempts.Inc()
		}
		transport, channel, err := c.open()
		if err == nil {
			c.mu.Lock()
			c.transport, c.channel = transport, channel
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.BrokerReady.Set(1)
			}
			c.logger.Info("connected to broker", "attempt", attempt)
			return nil
		}

		lastErr = err
		c.logger.Warn("broker connection attempt failed", "attempt", attempt, "max_attempts", c.opts.Attempts, "error", err)
		if attempt == c.opts.Attempts {
			break
		}
		if err := c.sleep(ctx, c.opts.Delay); err != nil {
			return fmt.Errorf("broker connection aborted: %w", err)
		}
	}

	c.mu.Lock()
	c.exhausted = true
	c.mu.Unlock()
	c.logger.Error("giving up on broker connection", "attempts", c.opts.Attempts, "error", lastErr)
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrBootstrapExhausted, c.opts.Attempts, lastErr)
}

// Bootstrap connects and then runs setup, typically the topology
// declaration. When setup fails the connection is closed so that it never
// reports ready with an incomplete topology.
func (c *Connection) Bootstrap(ctx context.Context, setup func(context.Context) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := setup(ctx); err != nil {
		c.Close()
		return fmt.Errorf("failed to set up broker topology: %w", err)
	}
	return nil
}

// open performs one attempt. A transport whose channel could not be opened
// is closed before returning.
func (c *Connection) open() (Transport, Channel, error) {
	transport, err := c.dial(c.opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	channel, err := transport.Channel()
	if err != nil {
		_ = transport.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return transport, channel, nil
}

// Ready reports whether the bootstrap completed and the connection is open.
func (c *Connection) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel != nil
}

func (c *Connection) ch() (Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil {
		return nil, domain.ErrChannelNotReady
	}
	return c.channel, nil
}

func (c *Connection) AssertExchange(ctx context.Context, name, kind string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

func (c *Connection) AssertQueue(ctx context.Context, name string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (c *Connection) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", queue, exchange, err)
	}
	return nil
}

// Publish sends payload as a persistent JSON message. It does not wait for
// a free slot: when Options.PublishBuffer publishes are already in flight
// the message is rejected with domain.ErrPublishRejected.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	default:
		return fmt.Errorf("%w: outbound buffer full", domain.ErrPublishRejected)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublishRejected, err)
	}
	return nil
}

// Consume sets the prefetch limit and calls handler for every delivery with
// manual acknowledgement. It returns nil once ctx is done and
// ErrDeliveryStreamClosed when the broker ends the stream first.
func (c *Connection) Consume(ctx context.Context, queue string, handler domain.MessageHandler) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := "logvault-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	c.logger.Info("consumer registered", "queue", queue, "consumer_tag", tag, "prefetch", c.opts.Prefetch)

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				c.logger.Warn("failed to cancel consumer", "consumer_tag", tag, "error", err)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveryStreamClosed
			}
			handler(ctx, toMessage(d))
		}
	}
}

func (c *Connection) Ack(msg domain.Message) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	return ch.Ack(msg.DeliveryTag, false)
}

func (c *Connection) Nack(msg domain.Message, requeue bool) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	return ch.Nack(msg.DeliveryTag, false, requeue)
}

// Close closes the channel and then the connection. Errors are logged.
func (c *Connection) Close() {
	c.mu.Lock()
	channel, transport := c.channel, c.transport
	c.channel, c.transport = nil, nil
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Warn("failed to close broker channel", "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Warn("failed to close broker connection", "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.BrokerReady.Set(0)
	}
}

func toMessage(d amqp.Delivery) domain.Message {
	return domain.Message{
		DeliveryTag: d.DeliveryTag,
		MessageID:   d.MessageId,
		ContentType: d.ContentType,
		Redelivered: d.Redelivered,
		Timestamp:   d.Timestamp,
		Body:        d.Body,
	}
}

type amqpTransport struct {
	conn *amqp.Connection
}

func dialAMQP(url string) (Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpTransport{conn: conn}, nil
}

func (t *amqpTransport) Channel() (Channel, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (t *amqpTransport) Close() error {
	return t.conn.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
