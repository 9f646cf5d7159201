package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"signupguard/internal/eventbus"

	"github.com/gorilla/websocket"
)

// refreshEventTypes are the loader lifecycle events streamed to clients.
var refreshEventTypes = []string{
	"snapshot_loaded",
	"refresh_started",
	"refresh_succeeded",
	"refresh_failed",
}

// --- WebSocket Hub ---

type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mutex      sync.Mutex
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 16),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    make(map[*wsClient]bool),
	}
}

// attach wires the hub to the event bus: every loader lifecycle event is
// fanned out to connected status-stream clients.
func (h *Hub) attach(bus *eventbus.Bus) {
	ch := make(chan eventbus.Event, 64)
	bus.SubscribeAll(refreshEventTypes, ch)
	go func() {
		for evt := range ch {
			msg := wsMessage{
				Type:      evt.Type,
				Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
				Payload:   evt.Data,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- data:
			default:
				// drop under backpressure; the stream is advisory
			}
		}
	}()
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

func (s *Server) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[API] WebSocket upgrade error:", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.register <- client

	// Send the current status immediately so clients don't wait for the
	// next lifecycle event.
	if snapshot, err := json.Marshal(wsMessage{
		Type:      "status",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   s.loader.Status(),
	}); err == nil {
		client.send <- snapshot
	}

	go func() {
		defer func() {
			s.hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
