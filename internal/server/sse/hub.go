package sse

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client represents a single connected SSE client.
// It's essentially a channel where we send messages destined for this client.
type Client chan []byte

// Hub manages the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// Event is the envelope for everything sent over the SSE stream.
type Event struct {
	Type      string      `json:"type"` // "frame_verdict" or "attendance"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AttendanceEventData describes a clock-in/clock-out/save transition.
type AttendanceEventData struct {
	Action   string `json:"action"` // "clock_in", "clock_out", "save"
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status,omitempty"`
	Duration string `json:"duration,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop.
// It should be run in a separate goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debugf("SSE client registered, total clients: %d", len(h.clients))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered, total clients: %d", len(h.clients))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				// Never block the pipeline on a slow client; drop instead.
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, dropping message")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal SSE event: %v", err)
		return
	}
	h.broadcast <- payload
}

// BroadcastAttendance sends an attendance transition to all clients.
func (h *Hub) BroadcastAttendance(data AttendanceEventData) {
	h.Broadcast("attendance", data)
}
