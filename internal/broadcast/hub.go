// Package broadcast delivers room-scoped events to every connected client of
// a lobby. Delivery is best-effort per connection: writes never block the
// sender, and a full outbound queue drops the frame rather than stalling the
// room.
package broadcast

import (
	"log"
	"sync"
)

// Message is one outbound JSON frame. The "type" field names the event.
type Message = map[string]interface{}

// Gateway is the engine's view of the broadcast layer.
type Gateway interface {
	ToRoom(code string, msg Message)
	CloseRoom(code string)
}

// Conn is a single client's presence: an id and a buffered outbound queue
// drained by the transport's write pump.
type Conn struct {
	ID      string
	OutChan chan Message
	Cancel  func()
}

// NewConn returns a Conn with a buffered outbound queue.
func NewConn(id string, cancel func()) *Conn {
	return &Conn{
		ID:      id,
		OutChan: make(chan Message, 16),
		Cancel:  cancel,
	}
}

// Write pushes a message onto the connection's queue non-blockingly. Logs if
// the frame is dropped.
func (c *Conn) Write(msg Message) {
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("broadcast: OutChan for conn %s closed or full, dropped message type %q", c.ID, msgType)
	}
}

// WriteError is a convenience to send an error frame to this connection only.
func (c *Conn) WriteError(message string) {
	c.Write(Message{"type": "error", "message": message})
}

// Hub implements Gateway over in-process rooms keyed by lobby code.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Conn
}

var _ Gateway = (*Hub)(nil)

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Conn)}
}

// Join adds the connection to a room. A connection may move between rooms; it
// is removed from any previous room first.
func (h *Hub) Join(code string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c.ID)
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[code] = room
	}
	room[c.ID] = c
}

// Remove drops the connection from whichever room holds it.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) removeLocked(connID string) {
	for code, room := range h.rooms {
		if _, ok := room[connID]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, code)
			}
			return
		}
	}
}

// ToRoom sends msg to every connection in the room. Collects the targets
// under the lock, then writes outside it; Write itself never blocks.
func (h *Hub) ToRoom(code string, msg Message) {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.rooms[code]))
	for _, c := range h.rooms[code] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Write(msg)
	}
}

// CloseRoom drops a room entirely, leaving the connections themselves open.
// Used after a disband notice has been delivered.
func (h *Hub) CloseRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}
