package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/logvault/internal/adapter/api/handler"
)

// NewAdminRouter creates the router of the admin port: metrics, health and,
// when admin is not nil, the dead-letter endpoints of the consumer.
func NewAdminRouter(gatherer prometheus.Gatherer, health *handler.HealthHandler, admin *handler.AdminHandler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /health", health)

	if admin != nil {
		mux.HandleFunc("GET /admin/deadletters", admin.GetDeadLetters)
		mux.HandleFunc("POST /admin/deadletters/replay", admin.ReplayDeadLetters)
	}

	return mux
}
