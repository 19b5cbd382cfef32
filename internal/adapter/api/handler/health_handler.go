package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessReporter reports whether a connection finished its bootstrap.
type ReadinessReporter interface {
	Ready() bool
}

type healthResponse struct {
	Status   string            `json:"status"`
	Hostname string            `json:"hostname"`
	Checks   map[string]string `json:"checks"`
}

// HealthHandler reports storage and broker health.
type HealthHandler struct {
	storage  Pinger
	broker   ReadinessReporter
	hostname string
	timeout  time.Duration
}

// NewHealthHandler creates a new HealthHandler. broker may be nil when the
// process does not use one.
func NewHealthHandler(storage Pinger, broker ReadinessReporter, hostname string) *HealthHandler {
	return &HealthHandler{
		storage:  storage,
		broker:   broker,
		hostname: hostname,
		timeout:  2 * time.Second,
	}
}

// ServeHTTP answers 200 when every dependency is up and 503 otherwise.
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Hostname: h.hostname, Checks: map[string]string{}}

	resp.Checks["storage"] = "up"
	if err := h.storage.Ping(ctx); err != nil {
		resp.Checks["storage"] = "down"
		resp.Status = "degraded"
	}
	if h.broker != nil {
		resp.Checks["broker"] = "up"
		if !h.broker.Ready() {
			resp.Checks["broker"] = "down"
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondWithJSON(w, status, resp)
}
