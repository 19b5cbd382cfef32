package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/V4T54L/logvault/internal/domain"
	"github.com/V4T54L/logvault/internal/usecase"
)

// LogCreator stores a log synchronously.
type LogCreator interface {
	Execute(ctx context.Context, input usecase.CreateLogInput) (*usecase.LogResponse, error)
}

// LogPublisher queues a log for asynchronous storage.
type LogPublisher interface {
	PublishLog(ctx context.Context, input usecase.CreateLogInput) error
}

// LogReader reads stored logs.
type LogReader interface {
	Execute(ctx context.Context, date string) ([]usecase.LogResponse, error)
	ExecuteByLevel(ctx context.Context, date string, level domain.Level) ([]usecase.LogResponse, error)
	GetByID(ctx context.Context, date, id string) (*usecase.LogResponse, error)
}

type createLogRequest struct {
	Level    string         `json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Message  string         `json:"message" validate:"required"`
	Context  string         `json:"context" validate:"omitempty,max=100"`
	Metadata map[string]any `json:"metadata"`
}

// LogHandler serves the /logs routes.
type LogHandler struct {
	creator     LogCreator
	publisher   LogPublisher
	reader      LogReader
	validate    *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
	now         func() time.Time
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler(creator LogCreator, publisher LogPublisher, reader LogReader, logger *slog.Logger, maxBodySize int64) *LogHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &LogHandler{
		creator:     creator,
		publisher:   publisher,
		reader:      reader,
		validate:    v,
		logger:      logger.With("component", "log_handler"),
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// Create stores a log and returns it.
// POST /logs
func (h *LogHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, err := h.decode(w, r)
	if err != nil {
		h.respondDecodeError(w, err)
		return
	}
	resp, err := h.creator.Execute(r.Context(), input)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

// CreateAsync queues a log for the consumer.
// POST /logs/async
func (h *LogHandler) CreateAsync(w http.ResponseWriter, r *http.Request) {
	input, err := h.decode(w, r)
	if err != nil {
		h.respondDecodeError(w, err)
		return
	}
	if err := h.publisher.PublishLog(r.Context(), input); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "log accepted for processing"})
}

// List returns a partition, optionally filtered by level. The date defaults
// to today in server local time.
// GET /logs?date=YYYY-MM-DD&level=LEVEL
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = h.now().Format(domain.PartitionDateLayout)
	}
	h.list(w, r, date, q.Get("level"))
}

// ListByDate returns every log of a partition.
// GET /logs/{date}
func (h *LogHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.PathValue("date"), r.URL.Query().Get("level"))
}

// Get returns one log. Logs with unreadable metadata are still returned, with
// empty metadata and a Warning header.
// GET /logs/{date}/{id}
func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.reader.GetByID(r.Context(), r.PathValue("date"), r.PathValue("id"))
	if err != nil && resp != nil && errors.Is(err, domain.ErrDeserialization) {
		h.logger.Warn("returning log with unreadable metadata", "id", resp.ID, "error", err)
		w.Header().Set("Warning", `199 - "stored metadata could not be decoded"`)
		respondWithJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *LogHandler) list(w http.ResponseWriter, r *http.Request, date, rawLevel string) {
	var (
		logs []usecase.LogResponse
		err  error
	)
	if rawLevel == "" {
		logs, err = h.reader.Execute(r.Context(), date)
	} else {
		var level domain.Level
		level, err = domain.ParseLevel(rawLevel)
		if err == nil {
			logs, err = h.reader.ExecuteByLevel(r.Context(), date, level)
		}
	}
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, logs)
}

var errBadBody = errors.New("malformed request body")

func (h *LogHandler) decode(w http.ResponseWriter, r *http.Request) (usecase.CreateLogInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createLogRequest
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return usecase.CreateLogInput{}, err
		}
		return usecase.CreateLogInput{}, fmt.Errorf("%w: %w", errBadBody, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return usecase.CreateLogInput{}, fmt.Errorf("%w: unexpected data after the JSON object", errBadBody)
	}
	if err := h.validate.Struct(req); err != nil {
		return usecase.CreateLogInput{}, err
	}
	return usecase.CreateLogInput{
		Level:    domain.Level(req.Level),
		Message:  req.Message,
		Context:  req.Context,
		Metadata: req.Metadata,
	}, nil
}

func (h *LogHandler) respondDecodeError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		details := make([]string, 0, len(validationErrs))
		for _, fe := range validationErrs {
			details = append(details, describeFieldError(fe))
		}
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
	case errors.Is(err, errBadBody):
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		respondWithError(w, h.logger, err)
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
