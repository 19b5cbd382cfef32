package usecase

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/V4T54L/logvault/internal/domain"
)

// GetLogsUseCase is the read path over one partition.
type GetLogsUseCase struct {
	repo domain.LogRepository
}

// NewGetLogsUseCase creates a new GetLogsUseCase.
func NewGetLogsUseCase(repo domain.LogRepository) *GetLogsUseCase {
	return &GetLogsUseCase{repo: repo}
}

// Execute returns every record of the partition, newest first. An empty
// partition yields an empty, non-nil slice.
func (uc *GetLogsUseCase) Execute(ctx context.Context, date string) ([]LogResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GetLogsByDate")
	defer span.End()
	span.SetAttributes(attribute.String("partition_date", date))

	if err := checkDate(date); err != nil {
		return nil, err
	}
	records, err := uc.repo.FindByDate(ctx, date)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return toResponses(records), nil
}

// ExecuteByLevel is Execute restricted to one level.
func (uc *GetLogsUseCase) ExecuteByLevel(ctx context.Context, date string, level domain.Level) ([]LogResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GetLogsByDateAndLevel")
	defer span.End()
	span.SetAttributes(attribute.String("partition_date", date), attribute.String("level", string(level)))

	if err := checkDate(date); err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", domain.ErrValidation, level)
	}
	records, err := uc.repo.FindByDateAndLevel(ctx, date, level)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return toResponses(records), nil
}

// GetByID returns one record or domain.ErrNotFound. When the stored metadata
// is malformed the record is returned with empty metadata together with the
// *domain.MetadataError.
func (uc *GetLogsUseCase) GetByID(ctx context.Context, date, id string) (*LogResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GetLogByID")
	defer span.End()

	if err := checkDate(date); err != nil {
		return nil, err
	}
	record, err := uc.repo.FindByID(ctx, date, id)
	if record == nil {
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return nil, domain.ErrNotFound
	}
	resp := NewLogResponse(record)
	return &resp, err
}

func checkDate(date string) error {
	if !domain.ValidPartitionDate(date) {
		return fmt.Errorf("%w: date %q must be formatted as YYYY-MM-DD", domain.ErrValidation, date)
	}
	return nil
}

func toResponses(records []*domain.LogRecord) []LogResponse {
	out := make([]LogResponse, 0, len(records))
	for _, r := range records {
		out = append(out, NewLogResponse(r))
	}
	return out
}
