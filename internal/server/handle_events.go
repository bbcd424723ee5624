package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/service"
)

const pingInterval = 30 * time.Second

// handleEvents streams a session's events as Server-Sent Events. Each message
// is named after the event type.
func handleEvents(logger *slog.Logger, svc *service.Service, broker *realtime.Broker, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if _, err := svc.Session(r.Context(), sessionID); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ch := broker.Subscribe(sessionID)
		m.SubscriberAdded()
		defer func() {
			broker.Unsubscribe(sessionID, ch)
			m.SubscriberRemoved()
		}()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(data), data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func eventName(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
