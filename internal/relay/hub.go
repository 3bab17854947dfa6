// Package relay is the broadcast channel's server side: a per-room fan-out
// with no replay buffer. A peer that is offline during a broadcast never
// receives it later; durable catch-up is the persistence layer's job. The
// relay never inspects scene content beyond envelope validation — it is a
// relay, not a sequencer.
package relay

import (
	"log"
	"sync"
)

// Hub tracks the set of active clients per room and fans messages out to
// everyone in the room except the sender.
type Hub struct {
	// Registered clients by room
	rooms map[string]map[*Client]bool

	// Inbound messages from clients
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	bridge *Bridge

	mu sync.RWMutex
}

type Message struct {
	RoomID string
	Data   []byte
	Sender *Client

	// fromBridge marks frames relayed in from another instance; they are
	// fanned out locally but not re-published, or instances would loop.
	fromBridge bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetBridge attaches a Redis bridge so multiple relay instances share rooms.
func (h *Hub) SetBridge(b *Bridge) {
	h.bridge = b
	b.deliver = func(roomID string, data []byte) {
		h.broadcast <- &Message{RoomID: roomID, Data: data, fromBridge: true}
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			newRoom := false
			if _, ok := h.rooms[client.roomID]; !ok {
				h.rooms[client.roomID] = make(map[*Client]bool)
				newRoom = true
			}
			h.rooms[client.roomID][client] = true
			clientCount := len(h.rooms[client.roomID])
			h.mu.Unlock()

			if newRoom && h.bridge != nil {
				h.bridge.SubscribeRoom(client.roomID)
			}
			log.Printf("Peer %s joined room %s (total: %d)", client.peerID, client.roomID, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.roomID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)

					if len(clients) == 0 {
						delete(h.rooms, client.roomID)
						log.Printf("Room %s closed (empty)", client.roomID)
						if h.bridge != nil {
							h.bridge.UnsubscribeRoom(client.roomID)
						}
					} else {
						log.Printf("Peer left room %s (remaining: %d)", client.roomID, len(clients))
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Collect slow clients under the read lock; evicting them mutates
			// the room map, which needs the write lock (stats handlers iterate
			// these maps concurrently under RLock).
			var dead []*Client
			h.mu.RLock()
			if clients, ok := h.rooms[message.RoomID]; ok {
				for client := range clients {
					if client != message.Sender {
						select {
						case client.send <- message.Data:
						default:
							dead = append(dead, client)
						}
					}
				}
			}
			h.mu.RUnlock()

			if len(dead) > 0 {
				h.mu.Lock()
				if clients, ok := h.rooms[message.RoomID]; ok {
					for _, client := range dead {
						if _, ok := clients[client]; ok {
							delete(clients, client)
							close(client.send)
							log.Printf("Evicted slow peer %s from room %s", client.peerID, client.roomID)
						}
					}
					if len(clients) == 0 {
						delete(h.rooms, message.RoomID)
						if h.bridge != nil {
							h.bridge.UnsubscribeRoom(message.RoomID)
						}
					}
				}
				h.mu.Unlock()
			}

			if h.bridge != nil && !message.fromBridge {
				h.bridge.Publish(message.RoomID, message.Data)
			}
		}
	}
}

// GetRoomCount returns the number of rooms with at least one live client.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientCount returns the total number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms maps room id to live client count.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for roomID, clients := range h.rooms {
		active[roomID] = len(clients)
	}
	return active
}
