package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hannesill/vitrine/internal/card"
)

// WebSocketBufferSize is the buffer size for the broadcast and per-client
// send channels, letting a burst of card updates queue up before a slow
// client blocks the hub.
const WebSocketBufferSize = 256

// WSMessage is the envelope for every message pushed over /ws: display.add,
// display.update, display.section, agent.started, agent.completed,
// agent.failed.
type WSMessage struct {
	Type  string `json:"type"`
	Study string `json:"study,omitempty"`
	Data  any    `json:"data"`
}

// Client represents one connected browser tab.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out WSMessages to every connected browser tab over a
// register/unregister/broadcast channel trio.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates an unstarted Hub; call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, WebSocketBufferSize),
	}
}

// Run drives the hub's main loop until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// BroadcastJSON marshals msg and fans it out to every connected client.
// Marshal failures are dropped silently — they indicate a programming bug
// in what's passed as msg.Data, not a transient condition to surface.
func (h *Hub) BroadcastJSON(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// BroadcastCardAdd announces a newly appended card.
func (h *Hub) BroadcastCardAdd(study string, c *card.Card) {
	h.BroadcastJSON(WSMessage{Type: "display.add", Study: study, Data: c})
}

// BroadcastCardUpdate announces an in-place card mutation (response,
// annotation, dismissal, rename, delete).
func (h *Hub) BroadcastCardUpdate(study string, c *card.Card) {
	h.BroadcastJSON(WSMessage{Type: "display.update", Study: study, Data: c})
}

// BroadcastSection announces a new section divider card.
func (h *Hub) BroadcastSection(study string, c *card.Card) {
	h.BroadcastJSON(WSMessage{Type: "display.section", Study: study, Data: c})
}

// agentEvent is the payload for agent.started/completed/failed broadcasts.
type agentEvent struct {
	CardID string `json:"card_id"`
	Task   string `json:"task,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BroadcastAgentEvent announces a dispatch lifecycle transition. Signature
// matches internal/dispatch.Broadcaster so *Hub satisfies it without
// internal/dispatch importing this package.
func (h *Hub) BroadcastAgentEvent(study, eventType, cardID, task, errMsg string) {
	h.BroadcastJSON(WSMessage{Type: eventType, Study: study, Data: agentEvent{CardID: cardID, Task: task, Error: errMsg}})
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// InboundHandler handles one inbound frame read by readPump; the server
// passes its handleInboundEvent (response submission, annotation, rename,
// dismiss, delete, selection). With a nil handler, incoming messages are read
// and discarded.
type InboundHandler func(raw []byte)

func (c *Client) readPump(handle InboundHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if handle != nil {
			handle(msg)
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
