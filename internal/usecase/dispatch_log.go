package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/domain"
)

// LogDispatcher publishes pending log inputs for asynchronous ingestion.
type LogDispatcher struct {
	publisher domain.Publisher
	topology  domain.Topology
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics
}

// NewLogDispatcher creates a new LogDispatcher on the log topology.
func NewLogDispatcher(publisher domain.Publisher, logger *slog.Logger, m *metrics.PipelineMetrics) *LogDispatcher {
	return &LogDispatcher{
		publisher: publisher,
		topology:  domain.LogTopology,
		logger:    logger.With("component", "log_dispatcher"),
		metrics:   m,
	}
}

// Setup declares the exchange so publishing works before any consumer ran.
func (d *LogDispatcher) Setup(ctx context.Context) error {
	if err := d.publisher.AssertExchange(ctx, d.topology.Exchange, d.topology.ExchangeKind); err != nil {
		return fmt.Errorf("failed to declare log exchange: %w", err)
	}
	return nil
}

// PublishLog serializes input and publishes it. A nil error means the message
// left the process, not that it was stored. Rejections match
// domain.ErrPublishRejected.
func (d *LogDispatcher) PublishLog(ctx context.Context, input CreateLogInput) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%w: encode log payload: %w", domain.ErrValidation, err)
	}

	if err := d.publisher.Publish(ctx, d.topology.Exchange, d.topology.RoutingKey, payload); err != nil {
		d.count("rejected")
		d.logger.Warn("log message was not published", "error", err)
		if errors.Is(err, domain.ErrPublishRejected) || errors.Is(err, domain.ErrChannelNotReady) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPublishRejected, err)
	}

	d.count("accepted")
	return nil
}

func (d *LogDispatcher) count(status string) {
	if d.metrics != nil {
		d.metrics.PublishedTotal.WithLabelValues(status).Inc()
	}
}
