package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/service"
)

type CreateSessionRequest struct {
	Title    string `json:"title"`
	Cyclists int    `json:"cyclists,omitempty"`
}

type SessionResponse struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	CurrentStage      int       `json:"currentStage"`
	Status            string    `json:"status"`
	StageLocked       bool      `json:"stageLocked"`
	MultiplierActive  bool      `json:"multiplierActive"`
	CurrentMultiplier float64   `json:"currentMultiplier"`
	ReflectionActive  bool      `json:"reflectionActive"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type TeamResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Home        bool   `json:"home"`
	Synergy     int    `json:"synergy"`
	TotalPoints int    `json:"totalPoints"`
}

type CyclistResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Stamina int    `json:"stamina"`
	Points  int    `json:"points"`
}

type SnapshotResponse struct {
	Session  SessionResponse   `json:"session"`
	Teams    []TeamResponse    `json:"teams"`
	Cyclists []CyclistResponse `json:"cyclists"`
}

type RankingResponse struct {
	Rank int          `json:"rank"`
	Team TeamResponse `json:"team"`
}

type StageResponse struct {
	Number      int     `json:"number"`
	Name        string  `json:"name"`
	Negotiation bool    `json:"negotiation"`
	Multiplier  float64 `json:"multiplier"`
	Current     bool    `json:"current"`
	Resolved    bool    `json:"resolved"`
}

func toSession(s grandtour.Session) SessionResponse {
	return SessionResponse{
		ID:                s.ID,
		Title:             s.Title,
		CurrentStage:      s.CurrentStage,
		Status:            string(s.Status),
		StageLocked:       s.StageLocked,
		MultiplierActive:  s.MultiplierActive,
		CurrentMultiplier: s.CurrentMultiplier,
		ReflectionActive:  s.ReflectionActive,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toTeam(t grandtour.Team) TeamResponse {
	return TeamResponse{
		ID:          t.ID,
		Name:        t.Name,
		Type:        string(t.Type),
		Home:        t.Type.IsHome(),
		Synergy:     t.Synergy,
		TotalPoints: t.TotalPoints,
	}
}

func handleCreateSession(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := svc.CreateSession(r.Context(), req.Title, req.Cyclists)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSession(sess))
	}
}

func handleGetSession(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := SnapshotResponse{
			Session:  toSession(snap.Session),
			Teams:    make([]TeamResponse, 0, len(snap.Teams)),
			Cyclists: make([]CyclistResponse, 0, len(snap.Cyclists)),
		}
		for _, t := range snap.Teams {
			resp.Teams = append(resp.Teams, toTeam(t))
		}
		for _, c := range snap.Cyclists {
			resp.Cyclists = append(resp.Cyclists, CyclistResponse{
				ID:      c.ID,
				Name:    c.Name,
				Role:    c.Role,
				Stamina: c.Stamina,
				Points:  c.Points,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleRankings(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rankings, err := svc.Rankings(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]RankingResponse, len(rankings))
		for i, rk := range rankings {
			resp[i] = RankingResponse{Rank: rk.Rank, Team: toTeam(rk.Team)}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStages(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stages, err := svc.Stages(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]StageResponse, len(stages))
		for i, st := range stages {
			resp[i] = StageResponse{
				Number:      st.Number,
				Name:        st.Name,
				Negotiation: st.Negotiation,
				Multiplier:  st.Multiplier,
				Current:     st.Current,
				Resolved:    st.Resolved,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
