package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/V4T54L/logvault/internal/domain"
	"github.com/V4T54L/logvault/internal/usecase"
)

type mockCreator struct {
	ExecuteFunc func(ctx context.Context, input usecase.CreateLogInput) (*usecase.LogResponse, error)
	calls       int
}

func (m *mockCreator) Execute(ctx context.Context, input usecase.CreateLogInput) (*usecase.LogResponse, error) {
	m.calls++
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, input)
	}
	return &usecase.LogResponse{ID: "generated", Level: input.Level, Message: input.Message}, nil
}

type mockPublisher struct {
	Err       error
	Published []usecase.CreateLogInput
}

func (m *mockPublisher) PublishLog(ctx context.Context, input usecase.CreateLogInput) error {
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, input)
	return nil
}

type mockReader struct {
	Logs      []usecase.LogResponse
	Err       error
	One       *usecase.LogResponse
	OneErr    error
	lastDate  string
	lastLevel domain.Level
}

func (m *mockReader) Execute(ctx context.Context, date string) ([]usecase.LogResponse, error) {
	m.lastDate = date
	return m.Logs, m.Err
}

func (m *mockReader) ExecuteByLevel(ctx context.Context, date string, level domain.Level) ([]usecase.LogResponse, error) {
	m.lastDate, m.lastLevel = date, level
	return m.Logs, m.Err
}

func (m *mockReader) GetByID(ctx context.Context, date, id string) (*usecase.LogResponse, error) {
	m.lastDate = date
	return m.One, m.OneErr
}

func newTestMux(h *LogHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /logs", h.Create)
	mux.HandleFunc("POST /logs/async", h.CreateAsync)
	mux.HandleFunc("GET /logs", h.List)
	mux.HandleFunc("GET /logs/{date}", h.ListByDate)
	mux.HandleFunc("GET /logs/{date}/{id}", h.Get)
	return mux
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		maxBody        int64
		creatorErr     error
		expectedStatus int
		expectCall     bool
		bodyContains   string
	}{
		{
			name:           "Valid Log",
			body:           `{"level":"INFO","message":"hello","metadata":{"k":"v"}}`,
			expectedStatus: http.StatusCreated,
			expectCall:     true,
			bodyContains:   `"id":"generated"`,
		},
		{
			name:           "Missing Message",
			body:           `{"level":"INFO"}`,
			expectedStatus: http.StatusBadRequest,
			bodyContains:   "message is required",
		},
		{
			name:           "Unknown Level",
			body:           `{"level":"TRACE","message":"m"}`,
			expectedStatus: http.StatusBadRequest,
			bodyContains:   "level must be one of DEBUG INFO WARN ERROR",
		},
		{
			name:           "Lower Case Level",
			body:           `{"level":"info","message":"m"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Context Too Long",
			body:           `{"level":"INFO","message":"m","context":"` + strings.Repeat("c", 101) + `"}`,
			expectedStatus: http.StatusBadRequest,
			bodyContains:   "context must be at most 100 characters",
		},
		{
			name:           "Unknown Field",
			body:           `{"level":"INFO","message":"m","partitionDate":"2020-01-01"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Bad JSON",
			body:           `{"level":"INFO",`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Trailing Data",
			body:           `{"level":"INFO","message":"m"} {}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Payload Too Large",
			body:           `{"level":"INFO","message":"this payload is definitely too large for the limit"}`,
			maxBody:        20,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:           "Storage Error",
			body:           `{"level":"ERROR","message":"m"}`,
			creatorErr:     errors.New("cluster unavailable"),
			expectedStatus: http.StatusInternalServerError,
			expectCall:     true,
			bodyContains:   "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &mockCreator{}
			if tt.creatorErr != nil {
				creator.ExecuteFunc = func(context.Context, usecase.CreateLogInput) (*usecase.LogResponse, error) {
					return nil, tt.creatorErr
				}
			}
			maxBody := tt.maxBody
			if maxBody == 0 {
				maxBody = 1024
			}
			h := NewLogHandler(creator, &mockPublisher{}, &mockReader{}, testLogger(), maxBody)

			req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			newTestMux(h).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v (body %s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if (creator.calls > 0) != tt.expectCall {
				t.Errorf("unexpected creator calls: %d", creator.calls)
			}
			if tt.bodyContains != "" && !strings.Contains(rr.Body.String(), tt.bodyContains) {
				t.Errorf("expected body to contain %q, got %s", tt.bodyContains, rr.Body.String())
			}
		})
	}
}

func TestLogHandler_CreateAsync(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		pub := &mockPublisher{}
		h := NewLogHandler(&mockCreator{}, pub, &mockReader{}, testLogger(), 1024)

		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs/async", strings.NewReader(`{"level":"WARN","message":"later","context":"jobs"}`)))

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		if len(pub.Published) != 1 || pub.Published[0].Context != "jobs" || pub.Published[0].Level != domain.LevelWarn {
			t.Errorf("unexpected published inputs %+v", pub.Published)
		}
	})

	for _, brokerErr := range []error{domain.ErrPublishRejected, domain.ErrChannelNotReady} {
		t.Run("Unavailable "+brokerErr.Error(), func(t *testing.T) {
			h := NewLogHandler(&mockCreator{}, &mockPublisher{Err: brokerErr}, &mockReader{}, testLogger(), 1024)

			rr := httptest.NewRecorder()
			newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs/async", strings.NewReader(`{"level":"INFO","message":"m"}`)))

			if rr.Code != http.StatusServiceUnavailable {
				t.Errorf("expected 503, got %d", rr.Code)
			}
		})
	}
}

func TestLogHandler_List(t *testing.T) {
	t.Run("Defaults To Today", func(t *testing.T) {
		reader := &mockReader{Logs: []usecase.LogResponse{}}
		h := NewLogHandler(&mockCreator{}, &mockPublisher{}, reader, testLogger(), 1024)
		h.now = func() time.Time { return time.Date(2025, 1, 9, 15, 0, 0, 0, time.Local) }

		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if reader.lastDate != "2025-01-09" {
			t.Errorf("expected today's partition, got %q", reader.lastDate)
		}
		if strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("expected empty JSON array, got %s", rr.Body.String())
		}
	})

	t.Run("Level Filter", func(t *testing.T) {
		reader := &mockReader{Logs: []usecase.LogResponse{{ID: "a", Level: domain.LevelError}}}
		h := NewLogHandler(&mockCreator{}, &mockPublisher{}, reader, testLogger(), 1024)

		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs?date=2025-01-08&level=error", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if reader.lastDate != "2025-01-08" || reader.lastLevel != domain.LevelError {
			t.Errorf("unexpected query %s/%s", reader.lastDate, reader.lastLevel)
		}
		var logs []usecase.LogResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &logs); err != nil || len(logs) != 1 {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
	})

	t.Run("Bad Level", func(t *testing.T) {
		h := NewLogHandler(&mockCreator{}, &mockPublisher{}, &mockReader{}, testLogger(), 1024)
		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs?level=loud", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("By Path Date", func(t *testing.T) {
		reader := &mockReader{Logs: []usecase.LogResponse{}}
		h := NewLogHandler(&mockCreator{}, &mockPublisher{}, reader, testLogger(), 1024)
		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs/2024-12-31", nil))
		if rr.Code != http.StatusOK || reader.lastDate != "2024-12-31" {
			t.Errorf("unexpected result %d for %q", rr.Code, reader.lastDate)
		}
	})

	t.Run("Invalid Date", func(t *testing.T) {
		reader := &mockReader{Err: errors.Join(domain.ErrValidation, errors.New("bad date"))}
		h := NewLogHandler(&mockCreator{}, &mockPublisher{}, reader, testLogger(), 1024)
		rr := httptest.NewRecorder()
		newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs/31-12-2024", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestLogHandler_Get(t *testing.T) {
	tests := []struct {
		name           string
		one            *usecase.LogResponse
		oneErr         error
		expectedStatus int
		expectWarning  bool
	}{
		{"Found", &usecase.LogResponse{ID: "x"}, nil, http.StatusOK, false},
		{"Not Found", nil, domain.ErrNotFound, http.StatusNotFound, false},
		{"Malformed Metadata", &usecase.LogResponse{ID: "x", Metadata: map[string]any{}}, &domain.MetadataError{ID: "x", Err: errors.New("eof")}, http.StatusOK, true},
		{"Storage Error", nil, domain.ErrStorageRead, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &mockReader{One: tt.one, OneErr: tt.oneErr}
			h := NewLogHandler(&mockCreator{}, &mockPublisher{}, reader, testLogger(), 1024)

			rr := httptest.NewRecorder()
			newTestMux(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs/2024-05-05/x", nil))

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			if got := rr.Header().Get("Warning") != ""; got != tt.expectWarning {
				t.Errorf("unexpected Warning header %q", rr.Header().Get("Warning"))
			}
		})
	}
}
