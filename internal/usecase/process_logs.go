package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

// Outcome is the terminal state of one consumed message.
type Outcome string

const (
	OutcomeAcked            Outcome = "acked"
	OutcomeRequeued         Outcome = "requeued"
	OutcomeDiscardedPoison  Outcome = "discarded_poison"
	OutcomeDiscardedStorage Outcome = "discarded_storage"
)

// LogCreator persists one log input. CreateLogUseCase implements it.
type LogCreator interface {
	Execute(ctx context.Context, input CreateLogInput) (*LogResponse, error)
}

// ProcessorConfig tunes the consumer.
type ProcessorConfig struct {
	// Concurrency bounds the number of messages handled at once.
	Concurrency int
	// RequeueOnStorageFailure returns messages to the queue instead of
	// discarding them to the dead-letter log when the backend fails.
	RequeueOnStorageFailure bool
}

// LogProcessor consumes log messages and persists them through a LogCreator.
type LogProcessor struct {
	subscriber  domain.Subscriber
	creator     LogCreator
	deadLetters domain.DeadLetterRepository
	topology    domain.Topology
	cfg         ProcessorConfig
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics
	now         func() time.Time
}

// NewLogProcessor creates a new LogProcessor. deadLetters and m may be nil.
func NewLogProcessor(subscriber domain.Subscriber, creator LogCreator, deadLetters domain.DeadLetterRepository, cfg ProcessorConfig, logger *slog.Logger, m *metrics.PipelineMetrics) *LogProcessor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &LogProcessor{
		subscriber:  subscriber,
		creator:     creator,
		deadLetters: deadLetters,
		topology:    domain.LogTopology,
		cfg:         cfg,
		logger:      logger.With("component", "log_processor"),
		metrics:     m,
		now:         time.Now,
	}
}

// Setup declares the exchange, the queue and the binding between them.
func (p *LogProcessor) Setup(ctx context.Context) error {
	t := p.topology
	if err := p.subscriber.AssertExchange(ctx, t.Exchange, t.ExchangeKind); err != nil {
		return fmt.Errorf("failed to declare log exchange: %w", err)
	}
	if err := p.subscriber.AssertQueue(ctx, t.Queue); err != nil {
		return fmt.Errorf("failed to declare log queue: %w", err)
	}
	if err := p.subscriber.BindQueue(ctx, t.Queue, t.Exchange, t.RoutingKey); err != nil {
		return fmt.Errorf("failed to bind log queue: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery stream ends, then waits
// for in-flight messages. Messages already being handled are finished even
// after ctx is cancelled so none is left unacknowledged.
func (p *LogProcessor) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	p.logger.Info("consuming log messages", "queue", p.topology.Queue, "concurrency", p.cfg.Concurrency)
	err := p.subscriber.Consume(ctx, p.topology.Queue, func(ctx context.Context, msg domain.Message) {
		inflight := context.WithoutCancel(ctx)
		g.Go(func() error {
			p.Handle(inflight, msg)
			return nil
		})
	})
	_ = g.Wait()

	if err != nil {
		return fmt.Errorf("log consumer stopped: %w", err)
	}
	p.logger.Info("log consumer stopped")
	return nil
}

// Handle processes one delivery and settles it exactly once.
func (p *LogProcessor) Handle(ctx context.Context, msg domain.Message) Outcome {
	logger := p.logger.With("message_id", msg.MessageID, "delivery_tag", msg.DeliveryTag)

	var input CreateLogInput
	if err := json.Unmarshal(msg.Body, &input); err != nil {
		logger.Warn("discarding undecodable log message", "error", err)
		return p.settle(logger, msg, OutcomeDiscardedPoison)
	}
	if err := validateInput(input); err != nil {
		logger.Warn("discarding invalid log message", "error", err)
		return p.settle(logger, msg, OutcomeDiscardedPoison)
	}
	input = p.pin(input, msg)

	_, err := p.creator.Execute(ctx, input)
	switch {
	case err == nil:
		return p.settle(logger, msg, OutcomeAcked)
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("discarding invalid log message", "error", err)
		return p.settle(logger, msg, OutcomeDiscardedPoison)
	case p.cfg.RequeueOnStorageFailure:
		logger.Warn("storage failed, requeueing log message", "error", err)
		return p.settle(logger, msg, OutcomeRequeued)
	default:
		logger.Error("storage failed, dead-lettering log message", "error", err)
		p.deadLetter(ctx, logger, msg, input, err)
		return p.settle(logger, msg, OutcomeDiscardedStorage)
	}
}

// ReplayDeadLetters re-ingests every dead letter in write order. The log is
// truncated only when every letter was stored.
func (p *LogProcessor) ReplayDeadLetters(ctx context.Context) (int, error) {
	if p.deadLetters == nil {
		return 0, nil
	}
	replayed := 0
	err := p.deadLetters.Replay(ctx, func(letter domain.DeadLetter) error {
		var input CreateLogInput
		if err := json.Unmarshal(letter.Payload, &input); err != nil {
			p.logger.Warn("dropping undecodable dead letter", "message_id", letter.MessageID, "error", err)
			return nil
		}
		if _, err := p.creator.Execute(ctx, input); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				p.logger.Warn("dropping invalid dead letter", "message_id", letter.MessageID, "error", err)
				return nil
			}
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("failed to replay dead letters: %w", err)
	}
	if err := p.deadLetters.Truncate(ctx); err != nil {
		return replayed, fmt.Errorf("failed to truncate dead letters: %w", err)
	}
	if replayed > 0 {
		p.logger.Info("replayed dead letters", "count", replayed)
	}
	return replayed, nil
}

// pin fixes the record id and timestamp so a redelivery upserts the same row.
func (p *LogProcessor) pin(input CreateLogInput, msg domain.Message) CreateLogInput {
	if input.ID == "" {
		if msg.MessageID != "" {
			input.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(msg.MessageID)).String()
		} else {
			input.ID = uuid.NewString()
		}
	}
	if input.Timestamp == nil {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = p.now()
		}
		input.Timestamp = &ts
	}
	return input
}

func (p *LogProcessor) deadLetter(ctx context.Context, logger *slog.Logger, msg domain.Message, input CreateLogInput, cause error) {
	if p.deadLetters == nil {
		return
	}
	payload, err := json.Marshal(input)
	if err != nil {
		payload = msg.Body
	}
	letter := domain.DeadLetter{
		MessageID: msg.MessageID,
		Reason:    cause.Error(),
		FailedAt:  p.now().UTC(),
		Payload:   payload,
	}
	if err := p.deadLetters.Write(ctx, letter); err != nil {
		logger.Error("failed to write dead letter", "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.DeadLettersTotal.Inc()
	}
}

func (p *LogProcessor) settle(logger *slog.Logger, msg domain.Message, outcome Outcome) Outcome {
	var err error
	switch outcome {
	case OutcomeAcked:
		err = p.subscriber.Ack(msg)
	case OutcomeRequeued:
		err = p.subscriber.Nack(msg, true)
	default:
		err = p.subscriber.Nack(msg, false)
	}
	if err != nil {
		logger.Error("failed to settle log message", "outcome", outcome, "error", err)
	}
	if p.metrics != nil {
		p.metrics.ConsumedTotal.WithLabelValues(string(outcome)).Inc()
	}
	return outcome
}

func validateInput(input CreateLogInput) error {
	if !input.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", domain.ErrValidation, input.Level)
	}
	if input.Message == "" {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	return nil
}
