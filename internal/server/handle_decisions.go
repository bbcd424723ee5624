package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/service"
)

type DecisionRequest struct {
	CyclistID string `json:"cyclistId"`
	Stage     int    `json:"stage"`
	Choice    string `json:"choice"`
}

type DecisionResponse struct {
	ID           string    `json:"id"`
	CyclistID    string    `json:"cyclistId"`
	Stage        int       `json:"stage"`
	Choice       string    `json:"choice"`
	PointsEarned int       `json:"pointsEarned"`
	CreatedAt    time.Time `json:"createdAt"`
}

type StageDecisionsResponse struct {
	Stage     int                `json:"stage"`
	Decided   int                `json:"decided"`
	Expected  int                `json:"expected"`
	Complete  bool               `json:"complete"`
	Resolved  bool               `json:"resolved"`
	Decisions []DecisionResponse `json:"decisions"`
}

func toDecision(d grandtour.Decision) DecisionResponse {
	return DecisionResponse{
		ID:           d.ID,
		CyclistID:    d.CyclistID,
		Stage:        d.StageNumber,
		Choice:       string(d.Choice),
		PointsEarned: d.PointsEarned,
		CreatedAt:    d.CreatedAt,
	}
}

func handleSubmitDecision(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DecisionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CyclistID == "" {
			writeError(w, http.StatusBadRequest, "cyclistId is required")
			return
		}

		d, err := svc.SubmitDecision(r.Context(), chi.URLParam(r, "sessionID"),
			req.CyclistID, req.Stage, grandtour.Choice(req.Choice))
		if errors.Is(err, service.ErrDecisionExists) {
			// Echo the stored choice so the client can show what was locked in.
			writeJSON(w, http.StatusConflict, struct {
				ErrorResponse
				Decision DecisionResponse `json:"decision"`
			}{ErrorResponse{Error: err.Error()}, toDecision(d)})
			return
		}
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDecision(d))
	}
}

// handleStageDecisions lists a stage's ledger. Choices stay hidden until the
// stage is resolved.
func handleStageDecisions(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage, ok := stageParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid stage number")
			return
		}

		sd, err := svc.StageDecisions(r.Context(), chi.URLParam(r, "sessionID"), stage)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := StageDecisionsResponse{
			Stage:     sd.Stage,
			Decided:   len(sd.Decisions),
			Expected:  sd.Expected,
			Complete:  sd.Complete,
			Resolved:  sd.Resolved,
			Decisions: make([]DecisionResponse, 0, len(sd.Decisions)),
		}
		for _, d := range sd.Decisions {
			dr := toDecision(d)
			if !sd.Resolved {
				dr.Choice = ""
			}
			resp.Decisions = append(resp.Decisions, dr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
