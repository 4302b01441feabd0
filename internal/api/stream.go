package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/zkauth/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream carries audit metadata only (no scalars, no tokens) and
	// sits behind the operator ingress, so all origins are accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventStream pushes every audit event to connected operator clients as
// CloudEvent JSON. One goroutine per connection writes; the read side only
// drains control frames.
type EventStream struct {
	bus *events.Bus
}

// NewEventStream taps the in-memory bus.
func NewEventStream(bus *events.Bus) *EventStream {
	return &EventStream{bus: bus}
}

// Handle upgrades the connection and streams events until the client leaves.
func (s *EventStream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub := s.bus.Subscribe()
	defer func() {
		s.bus.Unsubscribe(sub)
		conn.Close()
	}()

	// Reader: discard client frames, react to close/pong.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			payload, err := ev.JSON()
			if err != nil {
				slog.Error("Failed to marshal stream event", "event_id", ev.ID, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
