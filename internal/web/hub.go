package web

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PositionEvent is pushed to connected dashboard clients whenever a holding
// changes through apply or undo.
type PositionEvent struct {
	Type        string  `json:"type"` // "apply" or "undo"
	UserID      int64   `json:"user_id"`
	FundCode    string  `json:"fund_code"`
	UnitsHeld   float64 `json:"units_held"`
	CostPerUnit float64 `json:"cost_per_unit"`
}

// Hub manages websocket connections and broadcasts position events to all
// connected clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run starts the hub's event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			h.logger.Debug("ws client connected", zap.Int("total", len(h.clients)))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}

		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
		}
	}
}

// Broadcast sends an event to all connected clients. Drops the event if the
// broadcast buffer is full rather than blocking a request handler.
func (h *Hub) Broadcast(ev PositionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal position event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Position event dropped, broadcast buffer full")
	}
}
