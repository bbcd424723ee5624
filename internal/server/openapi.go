package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/handler/health"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type sessionPath struct {
	SessionID string `path:"sessionID" description:"Session identifier."`
}

type stagePath struct {
	SessionID string `path:"sessionID" description:"Session identifier."`
	Stage     int    `path:"stage" minimum:"1" maximum:"10" description:"Stage number."`
}

type createSessionInput struct {
	CreateSessionRequest
}

type decisionInput struct {
	sessionPath
	DecisionRequest
}

type reflectionInput struct {
	sessionPath
	ReflectionRequest
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Grand Tour API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Stage resolution backend for the Grand Tour team cycling training game.")

	add := func(method, path, summary, desc string, req any, resps ...respSpec) {
		op, _ := r.NewOperationContext(method, path)
		op.SetSummary(summary)
		op.SetDescription(desc)
		if req != nil {
			op.AddReqStructure(req)
		}
		for _, rs := range resps {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(rs.status)}
			if rs.contentType != "" {
				opts = append(opts, openapi.WithContentType(rs.contentType))
			}
			op.AddRespStructure(rs.body, opts...)
		}
		_ = r.AddOperation(op)
	}

	notFound := resp(http.StatusNotFound, ErrorResponse{})
	conflict := resp(http.StatusConflict, ErrorResponse{})
	invalid := resp(http.StatusUnprocessableEntity, ErrorResponse{})
	badRequest := resp(http.StatusBadRequest, ErrorResponse{})

	add(http.MethodGet, "/healthz", "Health check",
		"Returns the health status of backend dependencies.", nil,
		resp(http.StatusOK, health.Response{}),
		resp(http.StatusServiceUnavailable, health.Response{}))

	add(http.MethodPost, "/api/sessions", "Create session",
		"Creates a race with the home team, three AI teams and the home riders.",
		createSessionInput{},
		resp(http.StatusCreated, SessionResponse{}), badRequest, invalid)

	add(http.MethodGet, "/api/sessions/{sessionID}", "Get session",
		"Returns the session with every team and the home riders.",
		sessionPath{},
		resp(http.StatusOK, SnapshotResponse{}), notFound)

	add(http.MethodGet, "/api/sessions/{sessionID}/rankings", "Team rankings",
		"Teams ordered by total points, then synergy.",
		sessionPath{},
		resp(http.StatusOK, []RankingResponse{}), notFound)

	add(http.MethodGet, "/api/sessions/{sessionID}/stages", "Stage schedule",
		"The ten stages with their multipliers and the session's progress through them.",
		sessionPath{},
		resp(http.StatusOK, []StageResponse{}), notFound)

	add(http.MethodPost, "/api/sessions/{sessionID}/stage/open", "Open stage",
		"Unlocks the current stage for decisions. The first call starts the race.",
		sessionPath{},
		resp(http.StatusOK, SessionResponse{}), notFound, conflict)

	add(http.MethodPost, "/api/sessions/{sessionID}/stage/end", "End stage",
		"Locks the current stage and resolves it. Each stage resolves at most once.",
		sessionPath{},
		resp(http.StatusOK, engine.Result{}), notFound, conflict)

	add(http.MethodPost, "/api/sessions/{sessionID}/stage/advance", "Advance stage",
		"Moves to the next stage once the current one is resolved.",
		sessionPath{},
		resp(http.StatusOK, SessionResponse{}), notFound, conflict)

	add(http.MethodPost, "/api/sessions/{sessionID}/stages/{stage}/reopen", "Reopen stage",
		"Clears the resolution marker of the current stage so it can be resolved again.",
		stagePath{},
		resp(http.StatusOK, SessionResponse{}), badRequest, notFound, conflict, invalid)

	add(http.MethodPost, "/api/sessions/{sessionID}/reflection/start", "Start reflection",
		"Pauses an active race for the debrief.",
		sessionPath{},
		resp(http.StatusOK, SessionResponse{}), notFound, conflict)

	add(http.MethodPost, "/api/sessions/{sessionID}/reflection/end", "End reflection",
		"Closes the debrief and ends the session.",
		sessionPath{},
		resp(http.StatusOK, SessionResponse{}), notFound, conflict)

	add(http.MethodPost, "/api/sessions/{sessionID}/decisions", "Submit decision",
		"Records a home rider's sprint or cruise choice for the current stage.",
		decisionInput{},
		resp(http.StatusCreated, DecisionResponse{}), badRequest, notFound, conflict, invalid)

	add(http.MethodGet, "/api/sessions/{sessionID}/stages/{stage}/decisions", "Stage decisions",
		"Lists who has decided on a stage. Choices are hidden until the stage is resolved.",
		stagePath{},
		resp(http.StatusOK, StageDecisionsResponse{}), badRequest, notFound, invalid)

	add(http.MethodPost, "/api/sessions/{sessionID}/reflections", "Submit reflection",
		"Stores a home rider's debrief for a stage already raced.",
		reflectionInput{},
		resp(http.StatusCreated, ReflectionResponse{}), badRequest, notFound, conflict, invalid)

	add(http.MethodGet, "/api/sessions/{sessionID}/stages/{stage}/reflections", "Stage reflections",
		"Lists the reflections submitted for a stage with each rider's choice.",
		stagePath{},
		resp(http.StatusOK, []ReflectionResponse{}), badRequest, notFound, invalid)

	add(http.MethodGet, "/api/sessions/{sessionID}/events", "SSE event stream",
		"Server-Sent Events stream of the session's events. Each message is named after the event type.",
		sessionPath{},
		respSpec{status: http.StatusOK, contentType: "text/event-stream"}, notFound)

	add(http.MethodGet, "/api/sessions/{sessionID}/ws", "WebSocket event stream",
		"Upgrades to a WebSocket that pushes the session's events as JSON text messages.",
		sessionPath{},
		respSpec{status: http.StatusSwitchingProtocols, contentType: "text/plain"}, notFound)

	return r.Spec
}

type respSpec struct {
	status      int
	body        any
	contentType string
}

func resp(status int, body any) respSpec {
	return respSpec{status: status, body: body}
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
