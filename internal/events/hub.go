// Package events is the live dashboard feed: segment lifecycle events
// are broadcast over websockets to the tenant's connected consoles.
package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/metrics"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Hub maintains the set of active clients and broadcasts segment events
// to the clients belonging to the event's tenant
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound events from the orchestrators
	broadcast chan types.SegmentEvent

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan types.SegmentEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("tenant_id", client.tenantID).
				Int("total_clients", len(h.clients)).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.broadcastToTenant(event)
		}
	}
}

// Publish queues a segment event for broadcast. It never blocks the
// orchestrators: when the feed is saturated the event is dropped.
func (h *Hub) Publish(event types.SegmentEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().
			Str("call_id", event.CallID).
			Msg("event feed saturated, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToTenant sends an event to every client of the same tenant
func (h *Hub) broadcastToTenant(event types.SegmentEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal segment event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.tenantID != event.TenantID {
			continue
		}

		select {
		case client.send <- data:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}
