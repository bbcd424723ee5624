package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/service"
)

func handleOpenStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return sessionAction(logger, svc.OpenStage)
}

func handleAdvanceStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return sessionAction(logger, svc.AdvanceStage)
}

func handleStartReflection(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return sessionAction(logger, svc.StartReflection)
}

func handleEndReflection(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return sessionAction(logger, svc.EndReflection)
}

// sessionAction adapts a trainer action that returns the updated session.
func sessionAction(logger *slog.Logger, action func(context.Context, string) (grandtour.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := action(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSession(sess))
	}
}

// handleEndStage locks the current stage and returns the resolution result.
// A result with success=false still returns 200: the stage was resolved with
// some writes missing, and failures lists them.
func handleEndStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.EndStage(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleReopenStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage, ok := stageParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid stage number")
			return
		}

		sess, err := svc.ReopenStage(r.Context(), chi.URLParam(r, "sessionID"), stage)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSession(sess))
	}
}
