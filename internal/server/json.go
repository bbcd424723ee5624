package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/service"
	"github.com/playperu/grandtour/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps flow errors to HTTP statuses. Anything unrecognised
// is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrStageResolved),
		errors.Is(err, engine.ErrSessionEnded),
		errors.Is(err, engine.ErrStageOpen),
		errors.Is(err, service.ErrStageLocked),
		errors.Is(err, service.ErrStageUnresolved),
		errors.Is(err, service.ErrNotCurrentStage),
		errors.Is(err, service.ErrSessionNotActive),
		errors.Is(err, service.ErrDecisionExists),
		errors.Is(err, service.ErrReflectionExists),
		errors.Is(err, service.ErrReflectionClosed),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, store.ErrSessionChanged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidStage),
		errors.Is(err, service.ErrExhausted),
		errors.Is(err, service.ErrUnknownCyclist),
		errors.Is(err, service.ErrInvalidChoice),
		errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func stageParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "stage"))
	return n, err == nil
}
