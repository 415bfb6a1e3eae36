package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The control panel is served from the same host
	},
}

// WSMessage is the envelope for every broadcast frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams job, task, product, resource and schedule events
// to connected control-panel clients.
type WebSocketHandler struct {
	logger      arbor.ILogger
	events      interfaces.EventService
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
}

// NewWebSocketHandler creates a new websocket handler and subscribes it to the
// event bus.
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:      logger,
		events:      events,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}
	if events != nil {
		h.subscribe()
	}
	return h
}

func (h *WebSocketHandler) subscribe() {
	types := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobFinalized,
		interfaces.EventTaskUpdated,
		interfaces.EventProductUpdated,
		interfaces.EventResourceUpdated,
		interfaces.EventScheduleUpdated,
		interfaces.EventRunnerSynced,
	}
	for _, t := range types {
		if _, err := h.events.Subscribe(t, h.onEvent); err != nil {
			h.logger.Warn().Err(err).Str("event", string(t)).Msg("Failed to subscribe websocket broadcaster")
		}
	}
}

func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	h.Broadcast(string(event.Type), event.Payload)
	return nil
}

// HandleWebSocket handles GET /ws.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from the client to keep the connection alive.
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// Broadcast sends a message to every connected client. Writes that fail drop
// the client; the read loop notices the closed connection and unregisters it.
func (h *WebSocketHandler) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send websocket message")
			conn.Close()
		}
	}
}
