// Package realtime fans session events out to SSE and WebSocket subscribers,
// optionally across instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
)

// Event types published on a session's feed.
const (
	EventSessionCreated      = "session_created"
	EventStageOpened         = "stage_opened"
	EventStageResolved       = "stage_resolved"
	EventStageAdvanced       = "stage_advanced"
	EventStageReopened       = "stage_reopened"
	EventDecisionSubmitted   = "decision_submitted"
	EventReflectionStarted   = "reflection_started"
	EventReflectionEnded     = "reflection_ended"
	EventReflectionSubmitted = "reflection_submitted"
)

// Event is the payload delivered to session subscribers. Data carries the
// type-specific body, already JSON-encoded.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Stage     int             `json:"stage,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event, encoding data when it is not nil.
func NewEvent(typ, sessionID string, stage int, data any) Event {
	ev := Event{Type: typ, SessionID: sessionID, Stage: stage}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Publisher delivers events to whoever is listening on a session.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}
