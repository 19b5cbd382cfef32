package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/V4T54L/logvault/internal/adapter/metrics"
	"github.com/V4T54L/logvault/internal/adapter/pii"
	"github.com/V4T54L/logvault/internal/domain"
)

const tracerName = "logvault/usecase"

// ResponseTimestampLayout renders timestamps as UTC instants with millisecond
// precision.
const ResponseTimestampLayout = "2006-01-02T15:04:05.000Z"

// CreateLogInput is the write-path input. It is also the broker payload.
// ID and Timestamp are only set when a record is replayed.
type CreateLogInput struct {
	ID        string         `json:"id,omitempty"`
	Level     domain.Level   `json:"level"`
	Message   string         `json:"message"`
	Context   string         `json:"context,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LogResponse is the external representation of a stored record.
type LogResponse struct {
	ID            string         `json:"id"`
	Level         domain.Level   `json:"level"`
	Message       string         `json:"message"`
	Context       string         `json:"context"`
	Timestamp     string         `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
	PartitionDate string         `json:"partitionDate"`
}

// NewLogResponse maps a record to its external representation.
func NewLogResponse(r *domain.LogRecord) LogResponse {
	return LogResponse{
		ID:            r.ID(),
		Level:         r.Level(),
		Message:       r.Message(),
		Context:       r.Context(),
		Timestamp:     r.Timestamp().UTC().Format(ResponseTimestampLayout),
		Metadata:      r.Metadata(),
		PartitionDate: r.PartitionDate(),
	}
}

// CreateLogUseCase is the synchronous write path.
type CreateLogUseCase struct {
	repo     domain.LogRepository
	redactor *pii.Redactor
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
}

// NewCreateLogUseCase creates a new CreateLogUseCase. redactor and m may be nil.
func NewCreateLogUseCase(repo domain.LogRepository, redactor *pii.Redactor, logger *slog.Logger, m *metrics.PipelineMetrics) *CreateLogUseCase {
	return &CreateLogUseCase{
		repo:     repo,
		redactor: redactor,
		logger:   logger,
		metrics:  m,
	}
}

// Execute builds a record from input, redacts its metadata and persists it.
// Storage errors are returned unchanged and never retried here.
func (uc *CreateLogUseCase) Execute(ctx context.Context, input CreateLogInput) (*LogResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateLog")
	defer span.End()

	metadata, _ := uc.redactor.Redact(input.Metadata)
	params := domain.LogParams{
		ID:       input.ID,
		Level:    input.Level,
		Message:  input.Message,
		Context:  input.Context,
		Metadata: metadata,
	}
	if input.Timestamp != nil {
		params.Timestamp = *input.Timestamp
	}

	record, err := domain.NewLogRecord(params)
	if err != nil {
		uc.count("error_validation")
		return nil, err
	}

	if err := uc.repo.Save(ctx, record); err != nil {
		span.RecordError(err)
		uc.logger.Error("failed to save log record", "error", err, "id", record.ID(), "partition", record.PartitionDate())
		uc.count("error_storage")
		return nil, err
	}

	uc.count("saved")
	resp := NewLogResponse(record)
	return &resp, nil
}

func (uc *CreateLogUseCase) count(status string) {
	if uc.metrics != nil {
		uc.metrics.IngestedTotal.WithLabelValues(status).Inc()
	}
}
