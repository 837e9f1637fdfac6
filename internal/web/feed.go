package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// feedBufferSize bounds how many operational events queue for a slow
// dashboard client before the publisher starts dropping (events.Bus's
// own non-blocking-send discipline, see internal/events).
const feedBufferSize = 64

// handleFeed upgrades to a WebSocket and relays every operational
// event to the client as JSON, one message per event, until the
// connection closes or the subscription channel does.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event feed not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("feed: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(feedBufferSize)
	defer s.bus.Unsubscribe(ch)

	// Detect client-initiated close without blocking the write loop below.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.bus.Unsubscribe(ch)
				return
			}
		}
	}()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
