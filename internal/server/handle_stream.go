package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/service"
)

const writeTimeout = 10 * time.Second

// handleStream pushes a session's events over a WebSocket, one text message
// per event. Client messages are ignored.
func handleStream(logger *slog.Logger, svc *service.Service, broker *realtime.Broker, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if _, err := svc.Session(r.Context(), sessionID); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		// CloseRead discards client frames and cancels ctx once the peer goes away.
		ctx := conn.CloseRead(r.Context())

		ch := broker.Subscribe(sessionID)
		m.SubscriberAdded()
		defer func() {
			broker.Unsubscribe(sessionID, ch)
			m.SubscriberRemoved()
		}()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("websocket closed", "session_id", sessionID, "error", context.Cause(ctx))
				return
			case data := <-ch:
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					logger.Debug("websocket write failed", "session_id", sessionID, "error", err)
					return
				}
			}
		}
	}
}
