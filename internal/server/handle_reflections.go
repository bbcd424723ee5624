package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/service"
)

type ReflectionRequest struct {
	CyclistID         string `json:"cyclistId"`
	Stage             int    `json:"stage"`
	DecisionReasoning string `json:"decisionReasoning"`
	EmotionalResponse string `json:"emotionalResponse"`
}

type ReflectionResponse struct {
	ID                string    `json:"id"`
	CyclistID         string    `json:"cyclistId"`
	CyclistName       string    `json:"cyclistName,omitempty"`
	Stage             int       `json:"stage"`
	Choice            string    `json:"choice,omitempty"`
	DecisionReasoning string    `json:"decisionReasoning"`
	EmotionalResponse string    `json:"emotionalResponse"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toReflection(r grandtour.Reflection) ReflectionResponse {
	return ReflectionResponse{
		ID:                r.ID,
		CyclistID:         r.CyclistID,
		Stage:             r.StageNumber,
		DecisionReasoning: r.DecisionReasoning,
		EmotionalResponse: r.EmotionalResponse,
		CreatedAt:         r.CreatedAt,
	}
}

func handleSubmitReflection(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReflectionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CyclistID == "" {
			writeError(w, http.StatusBadRequest, "cyclistId is required")
			return
		}

		ref, err := svc.SubmitReflection(r.Context(), grandtour.Reflection{
			CyclistID:         req.CyclistID,
			SessionID:         chi.URLParam(r, "sessionID"),
			StageNumber:       req.Stage,
			DecisionReasoning: req.DecisionReasoning,
			EmotionalResponse: req.EmotionalResponse,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReflection(ref))
	}
}

func handleStageReflections(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage, ok := stageParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid stage number")
			return
		}

		entries, err := svc.StageReflections(r.Context(), chi.URLParam(r, "sessionID"), stage)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]ReflectionResponse, 0, len(entries))
		for _, e := range entries {
			rr := toReflection(e.Reflection)
			rr.CyclistName = e.CyclistName
			rr.Choice = string(e.Choice)
			resp = append(resp, rr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
