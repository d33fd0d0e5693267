package api

import (
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one assistant happening pushed to /ws subscribers.
type Event struct {
	Kind    string    `json:"kind"` // wake, transcript, reply, speak
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Hub fans assistant events out to connected websocket clients. A client
// that cannot be written to is dropped; subscribers are observers, not
// participants.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// local API, same-origin policing is not useful here
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast sends an event to every subscriber. Safe from any goroutine.
func (h *Hub) Broadcast(kind, content string) {
	ev := Event{Kind: kind, Content: content, Time: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug("dropping event subscriber", "err", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	log.Info("event subscriber connected", "remote", conn.RemoteAddr())

	// Read loop only notices disconnects; incoming messages are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
}
