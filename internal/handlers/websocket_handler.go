package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - can be restricted in production
		return true
	},
}

// WebSocketHandler handles WebSocket connections for sync updates
type WebSocketHandler struct {
	hub *services.WebSocketHub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := h.hub.NewClient(clientID, conn)

	// Clients can announce a user ID up front to receive user-addressed
	// messages without subscribing to a broadcast topic
	if userID := r.URL.Query().Get("userId"); userID != "" {
		h.hub.SetUserID(client, userID)
	}

	h.hub.Register(client)
	h.hub.Subscribe(client, services.TopicSync)

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		observability.Debugf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic := messageTopic(msg); topic != "" {
			h.hub.Subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic := messageTopic(msg); topic != "" {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		pong := services.WSMessage{Type: services.WSTypePong}
		if payload, err := json.Marshal(pong); err == nil {
			select {
			case client.Send <- payload:
			default:
			}
		}
	}
}

// messageTopic extracts the topic from a subscribe/unsubscribe payload,
// which may be a bare string or an object with a "topic" field
func messageTopic(msg services.WSMessage) string {
	if topic, ok := msg.Payload.(string); ok {
		return topic
	}
	if payload, ok := msg.Payload.(map[string]interface{}); ok {
		if topic, ok := payload["topic"].(string); ok {
			return topic
		}
	}
	return ""
}
