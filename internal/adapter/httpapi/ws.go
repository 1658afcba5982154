package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"legalmind/internal/domain"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// runSubscriber is implemented by buses that can scope a subscription to a
// single run.
type runSubscriber interface {
	SubscribeRun(runID string, handler domain.EventHandler) func()
}

// handleEvents streams bus events to a WebSocket client. With ?run_id= only
// that run's events are forwarded. Events for slow clients are dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	runID := r.URL.Query().Get("run_id")
	sendCh := make(chan domain.Event, streamBuffer)
	forward := func(_ context.Context, ev domain.Event) {
		if runID != "" && ev.RunID != runID {
			return
		}
		select {
		case sendCh <- ev:
		default:
			s.logger.Warn("httpapi: dropped event for slow client", "event", string(ev.Type))
		}
	}

	var unsub func()
	if rs, ok := s.deps.Bus.(runSubscriber); ok && runID != "" {
		unsub = rs.SubscribeRun(runID, forward)
	} else {
		unsub = s.deps.Bus.SubscribeAll(forward)
	}
	defer unsub()

	s.streams.Add(1)
	defer s.streams.Add(-1)
	s.logger.Info("event stream connected", "run_id", runID)

	// Clients only listen; CloseRead reports when they go away.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event stream disconnected", "run_id", runID)
			return
		case ev := <-sendCh:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, ws, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
