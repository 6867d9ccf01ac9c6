package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Subscriber is the event hub as seen by the API.
type Subscriber interface {
	Subscribe() (<-chan dispatch.Event, func())
}

// EventsHandler streams dispatch events over WebSocket.
type EventsHandler struct {
	hub      Subscriber
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewEventsHandler creates an event stream handler.
func NewEventsHandler(hub Subscriber, logger *logging.Logger) *EventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{
		hub:    hub,
		logger: logger.WithComponent("api.events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// parseTypes reads the optional comma separated ?types= filter.
func parseTypes(r *http.Request) map[dispatch.EventType]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	types := make(map[dispatch.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[dispatch.EventType(t)] = true
		}
	}
	return types
}

// Stream upgrades the connection and forwards events until the client goes
// away or the hub closes.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	types := parseTypes(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	h.logger.Debug("Event stream opened", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, types, done)

	h.logger.Debug("Event stream closed", "remote_addr", r.RemoteAddr)
}

// readPump drains client messages so control frames are processed. It
// closes done when the connection fails.
func (h *EventsHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "error", err)
			}
			return
		}
	}
}

func (h *EventsHandler) writePump(conn *websocket.Conn, events <-chan dispatch.Event,
	types map[dispatch.EventType]bool, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if types != nil && !types[e.Type] {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("Failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
