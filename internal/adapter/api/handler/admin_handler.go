package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// DeadLetterCounter counts the stored dead letters.
type DeadLetterCounter interface {
	Len(ctx context.Context) (int, error)
}

// DeadLetterReplayer re-ingests the stored dead letters.
type DeadLetterReplayer interface {
	ReplayDeadLetters(ctx context.Context) (int, error)
}

// AdminHandler serves consumer administration endpoints.
type AdminHandler struct {
	counter  DeadLetterCounter
	replayer DeadLetterReplayer
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(counter DeadLetterCounter, replayer DeadLetterReplayer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{counter: counter, replayer: replayer, logger: logger.With("component", "admin_handler")}
}

// GetDeadLetters reports how many dead letters wait for replay.
// GET /admin/deadletters
func (h *AdminHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.counter.Len(r.Context())
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"pending": n})
}

// ReplayDeadLetters re-ingests every dead letter. A partial replay keeps the
// log and reports how many letters were stored before the failure.
// POST /admin/deadletters/replay
func (h *AdminHandler) ReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.replayer.ReplayDeadLetters(r.Context())
	if err != nil {
		h.logger.Error("dead-letter replay failed", "replayed", n, "error", err)
		respondWithJSON(w, http.StatusBadGateway, map[string]any{"replayed": n, "error": "replay stopped, dead letters kept"})
		return
	}
	h.logger.Info("dead letters replayed", "replayed", n)
	respondWithJSON(w, http.StatusOK, map[string]int{"replayed": n})
}
