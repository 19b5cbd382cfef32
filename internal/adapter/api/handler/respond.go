package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/logvault/internal/domain"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError maps err onto a status code. Only validation messages are
// shown to the caller; everything else is logged.
func respondWithError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		respondWithJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
	case errors.Is(err, domain.ErrValidation):
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		respondWithJSON(w, http.StatusNotFound, errorResponse{Error: "log not found"})
	case errors.Is(err, domain.ErrPublishRejected), errors.Is(err, domain.ErrChannelNotReady):
		logger.Warn("async ingestion unavailable", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "log queue unavailable, retry later"})
	default:
		logger.Error("request failed", "error", err)
		respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
