package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

// Client is one authenticated socket, adapted from the teacher's
// Client — it now tracks the set of rooms it has joined (so Disconnect
// can tell the gateway which rooms to emit presence{offline} to) and
// dispatches inbound frames through Gateway.handleEvent instead of
// writing directly to a *gorm.DB.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	userID   string
	socketID string

	mu     sync.Mutex
	joined map[string]*RoomHub
}

func newClient(gw *Gateway, conn *websocket.Conn, userID string) *Client {
	return &Client{
		gateway: gw, conn: conn, userID: userID, socketID: uuid.NewString(),
		send: make(chan []byte, 256), joined: make(map[string]*RoomHub),
	}
}

func (c *Client) joinedRoomIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) isJoined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[roomID]
	return ok
}

func (c *Client) markJoined(roomID string, rh *RoomHub) {
	c.mu.Lock()
	c.joined[roomID] = rh
	c.mu.Unlock()
}

func (c *Client) markLeft(roomID string) {
	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()
}

// inboundEvent is the wire shape of every client→server frame (§4.11
// client events table); fields unused by a given Type are left zero.
type inboundEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Body      string `json:"body"`
	IsTyping  bool   `json:"isTyping"`
	MessageID string `json:"messageId"`
}

func (c *Client) readPump() {
	defer c.gateway.disconnect(c)
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var evt inboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		c.gateway.handleEvent(c, evt)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.gateway.emitPing(c)
		}
	}
}
