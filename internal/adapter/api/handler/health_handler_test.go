package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type readyFlag bool

func (r readyFlag) Ready() bool { return bool(r) }

func TestHealthHandler(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("no route to host") })

	tests := []struct {
		name           string
		storage        Pinger
		broker         ReadinessReporter
		expectedStatus int
		expectedState  string
	}{
		{"All Up", up, readyFlag(true), http.StatusOK, "healthy"},
		{"No Broker Configured", up, nil, http.StatusOK, "healthy"},
		{"Storage Down", down, readyFlag(true), http.StatusServiceUnavailable, "degraded"},
		{"Broker Not Ready", up, readyFlag(false), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.storage, tt.broker, "host-1")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			var resp healthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if resp.Status != tt.expectedState || resp.Hostname != "host-1" {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}
