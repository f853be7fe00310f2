package webui

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the narrow slice of *websocket.Conn the dashboard's event feed
// needs. Abstracting it lets tests exercise handleEvents without a real
// WebSocket handshake, the same capability-seam pattern internal/sources
// and internal/wsdk use for their OS primitives.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Upgrader upgrades an HTTP connection to a WebSocket connection.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Conn, error)
}

// defaultUpgrader wraps gorilla/websocket.Upgrader, restricted to same-
// origin loopback requests since the dashboard never leaves localhost.
type defaultUpgrader struct{}

// A nil CheckOrigin selects gorilla's default check, which rejects a
// request whose Origin host differs from its Host header.
var gorillaUpgrader = websocket.Upgrader{}

func (defaultUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (Conn, error) {
	c, err := gorillaUpgrader.Upgrade(w, r, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// handleEvents implements GET /debug/events (SPEC_FULL §6.5): upgrade to
// a WebSocket and stream every broadcast event as JSON, through the same
// fan-out real RPC clients subscribe to — the dashboard is simply another
// subscriber, with no write-back path.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("debug dashboard: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe(32)
	defer s.bus.Unsubscribe(sub)

	for event := range sub {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
