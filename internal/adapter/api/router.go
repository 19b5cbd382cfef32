package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/logvault/internal/adapter/api/handler"
	"github.com/V4T54L/logvault/internal/adapter/api/middleware"
)

// NewRouter creates and configures the public HTTP router of the API service.
func NewRouter(logger *slog.Logger, hostname string, logs *handler.LogHandler, health *handler.HealthHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /logs", logs.Create)
	mux.HandleFunc("POST /logs/async", logs.CreateAsync)
	mux.HandleFunc("GET /logs", logs.List)
	mux.HandleFunc("GET /logs/{date}", logs.ListByDate)
	mux.HandleFunc("GET /logs/{date}/{id}", logs.Get)

	mux.Handle("GET /health", health)

	return middleware.Logging(logger)(middleware.ContainerID(hostname)(mux))
}
