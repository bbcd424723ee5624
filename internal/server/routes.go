package server

import (
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, deps Deps) {
	log, svc, broker, m := deps.Logger, deps.Service, deps.Broker, deps.Metrics

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Grand Tour API", "/openapi.json", "/docs"))
	r.Handle("/metrics", m.Handler())

	r.Post("/api/sessions", handleCreateSession(log, svc))

	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", handleGetSession(log, svc))
		r.Get("/rankings", handleRankings(log, svc))
		r.Get("/stages", handleStages(log, svc))

		// Trainer controls.
		r.Post("/stage/open", handleOpenStage(log, svc))
		r.Post("/stage/end", handleEndStage(log, svc))
		r.Post("/stage/advance", handleAdvanceStage(log, svc))
		r.Post("/stages/{stage}/reopen", handleReopenStage(log, svc))
		r.Post("/reflection/start", handleStartReflection(log, svc))
		r.Post("/reflection/end", handleEndReflection(log, svc))

		// Riders.
		r.Post("/decisions", handleSubmitDecision(log, svc))
		r.Get("/stages/{stage}/decisions", handleStageDecisions(log, svc))
		r.Post("/reflections", handleSubmitReflection(log, svc))
		r.Get("/stages/{stage}/reflections", handleStageReflections(log, svc))

		// Live feeds.
		r.Get("/events", handleEvents(log, svc, broker, m))
		r.Get("/ws", handleStream(log, svc, broker, m))
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			log.Info("serving dashboard", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
