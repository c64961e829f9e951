package ws

import (
	"sync"
	"sync/atomic"

	"chatroom/internal/metrics"
)

// Hub owns lazily-created per-room fan-out channels, adapted from the
// teacher's Hub/RoomHub — rooms are now keyed by the document store's
// string room id rather than a numeric GORM primary key, and a RoomHub
// is pure publish/subscribe: presence join/leave events are emitted by
// Gateway, not by the hub itself, per §4.11.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// Room lazily creates and starts a RoomHub's run loop.
func (h *Hub) Room(roomID string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

type RoomHub struct {
	roomID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewRoomHub(roomID string) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c, ok := <-rh.register:
			if !ok {
				return
			}
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.WsConnections.Inc()
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				metrics.WsConnections.Dec()
			}
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				select {
				case c.send <- msg:
				default:
					delete(rh.clients, c)
					atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
					metrics.WsConnections.Dec()
				}
			}
		}
	}
}

// Broadcast enqueues msg for delivery to every client currently
// registered in the room.
func (rh *RoomHub) Broadcast(msg []byte) { rh.broadcast <- msg }

// Online returns the room's current subscriber count.
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
