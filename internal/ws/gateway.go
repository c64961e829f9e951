package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatroom/internal/auth"
	"chatroom/internal/broker"
	"chatroom/internal/presence"
	"chatroom/internal/ratelimit"
	"chatroom/internal/service"
	"chatroom/internal/session"
)

const typingAutoClear = 3 * time.Second

// RoomMembership is the slice of RoomService the gateway needs for its
// join_room/send_message/typing guards.
type RoomMembership interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// MessageSender is the slice of MessageService the gateway needs for
// send_message.
type MessageSender interface {
	Send(ctx context.Context, roomID, body, userID, clientIP string) (*service.MessageDTO, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway implements C11: socket lifecycle, channel subscription, event
// dispatch, presence events, typing timers, heartbeat — adapted from
// the teacher's ws.Serve/Client/Hub trio, generalized from a single
// room-per-connection model to the spec's multi-room auto-join model,
// and wired as pipeline.FanoutSink and service.DeleteSink so the
// pipeline and message service can push events in without importing ws.
type Gateway struct {
	hub          *Hub
	presence     *presence.Registry
	sessions     *session.Service
	limiter      *ratelimit.Limiter
	limits       map[string]ratelimit.Rule
	accessSecret string
	rooms        RoomMembership
	messages     MessageSender

	typingMu sync.Mutex
	typing   map[string]*time.Timer // key: roomID + ":" + userID
}

func NewGateway(hub *Hub, presenceRegistry *presence.Registry, sessions *session.Service, limiter *ratelimit.Limiter, limits map[string]ratelimit.Rule, accessSecret string, rooms RoomMembership, messages MessageSender) *Gateway {
	return &Gateway{
		hub: hub, presence: presenceRegistry, sessions: sessions, limiter: limiter, limits: limits,
		accessSecret: accessSecret, rooms: rooms, messages: messages,
		typing: make(map[string]*time.Timer),
	}
}

// Serve upgrades the connection at GET /chat per §4.11 "Connection".
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		if rule, ok := g.limits["websocketIP"]; ok {
			res, err := g.limiter.Allow(ctx, "websocketIP:"+clientIP, rule)
			if err == nil && !res.Allowed {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts", "retryAfter": res.RetryAfter})
				return
			}
		}

		tokenStr, ok := extractToken(c.GetHeader("Authorization"), c.Query("token"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		blacklisted, err := g.sessions.IsBlacklisted(ctx, tokenStr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if blacklisted {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}

		claims, err := auth.ParseToken(tokenStr, g.accessSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if valid, err := g.sessions.IsValid(ctx, tokenStr, claims.ID, claims.IssuedAt.Time.UnixMilli()); err != nil || !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := newClient(g, conn, claims.ID)
		g.connect(ctx, client)

		go client.writePump()
		client.readPump()
	}
}

func extractToken(header, queryToken string) (string, bool) {
	if header != "" && strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):]), true
	}
	if queryToken != "" {
		return queryToken, true
	}
	return "", false
}

// connect implements the success path of §4.11 "Connection".
func (g *Gateway) connect(ctx context.Context, c *Client) {
	if err := g.presence.SetOnline(ctx, c.userID, c.socketID); err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("presence set online")
	}

	rooms, err := g.presence.UserRooms(ctx, c.userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("presence user rooms")
		rooms = nil
	}
	for _, roomID := range rooms {
		rh := g.hub.Room(roomID)
		rh.register <- c
		c.markJoined(roomID, rh)
	}
	g.broadcastPresence(rooms, c.userID, presence.Online)

	go g.heartbeatLoop(c)
}

// disconnect implements §4.11 "Disconnect".
func (g *Gateway) disconnect(c *Client) {
	ctx := context.Background()
	rooms := c.joinedRoomIDs()
	for _, roomID := range rooms {
		g.hub.Room(roomID).unregister <- c
	}
	if err := g.presence.CleanupUser(ctx, c.userID); err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("presence cleanup user")
	}
	g.broadcastPresence(rooms, c.userID, presence.Offline)
}

func (g *Gateway) heartbeatLoop(c *Client) {
	ticker := time.NewTicker(presence.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := g.presence.Heartbeat(context.Background(), c.userID); err != nil {
			return
		}
	}
}

func (g *Gateway) emitPing(c *Client) {
	g.send(c, "ping", nil)
}

// handleEvent dispatches one client event per the §4.11 client-events
// table.
func (g *Gateway) handleEvent(c *Client, evt inboundEvent) {
	ctx := context.Background()
	switch evt.Type {
	case "join_room":
		g.onJoinRoom(ctx, c, evt.RoomID)
	case "leave_room":
		g.onLeaveRoom(ctx, c, evt.RoomID)
	case "typing":
		g.onTyping(ctx, c, evt.RoomID, evt.IsTyping)
	case "send_message":
		g.onSendMessage(ctx, c, evt.RoomID, evt.Body)
	case "read_receipt":
		g.onReadReceipt(c, evt.RoomID, evt.MessageID)
	case "pong":
		if err := g.presence.Heartbeat(ctx, c.userID); err != nil {
			log.Warn().Err(err).Str("user_id", c.userID).Msg("presence heartbeat")
		}
	}
}

func (g *Gateway) onJoinRoom(ctx context.Context, c *Client, roomID string) {
	if roomID == "" {
		return
	}
	member, err := g.rooms.IsMember(ctx, roomID, c.userID)
	if err != nil || !member {
		return
	}
	rh := g.hub.Room(roomID)
	rh.register <- c
	c.markJoined(roomID, rh)
	if err := g.presence.AddToRoom(ctx, c.userID, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("presence add to room")
	}
	g.broadcastPresence([]string{roomID}, c.userID, presence.Online)
}

func (g *Gateway) onLeaveRoom(ctx context.Context, c *Client, roomID string) {
	if roomID == "" || !c.isJoined(roomID) {
		return
	}
	g.hub.Room(roomID).unregister <- c
	c.markLeft(roomID)
	if err := g.presence.RemoveFromRoom(ctx, c.userID, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("presence remove from room")
	}
	g.broadcastPresence([]string{roomID}, c.userID, presence.Offline)
}

func (g *Gateway) onTyping(ctx context.Context, c *Client, roomID string, isTyping bool) {
	member, err := g.rooms.IsMember(ctx, roomID, c.userID)
	if err != nil || !member {
		return
	}
	g.broadcastTyping(roomID, c.userID, isTyping)

	key := roomID + ":" + c.userID
	g.typingMu.Lock()
	if existing, ok := g.typing[key]; ok {
		existing.Stop()
		delete(g.typing, key)
	}
	if isTyping {
		g.typing[key] = time.AfterFunc(typingAutoClear, func() {
			g.typingMu.Lock()
			delete(g.typing, key)
			g.typingMu.Unlock()
			g.broadcastTyping(roomID, c.userID, false)
		})
	}
	g.typingMu.Unlock()
}

func (g *Gateway) onSendMessage(ctx context.Context, c *Client, roomID, body string) {
	member, err := g.rooms.IsMember(ctx, roomID, c.userID)
	if err != nil || !member {
		g.send(c, "error", gin.H{"message": "not a member of this room"})
		return
	}
	dto, err := g.messages.Send(ctx, roomID, body, c.userID, "")
	if err != nil {
		g.send(c, "error", gin.H{"message": err.Error()})
		return
	}
	g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
		"type": "message_created", "roomId": roomID, "message": dto,
	}))
}

func (g *Gateway) onReadReceipt(c *Client, roomID, messageID string) {
	if roomID == "" {
		return
	}
	ref := messageID
	if ref == "" {
		ref = "latest"
	}
	g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
		"type": "read_receipt", "userId": c.userID, "roomId": roomID,
		"messageId": ref, "readAt": time.Now().UTC(),
	}))
}

func (g *Gateway) broadcastPresence(roomIDs []string, userID string, status presence.Status) {
	for _, roomID := range roomIDs {
		g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
			"type": "presence", "roomId": roomID, "userId": userID, "status": status,
		}))
	}
}

func (g *Gateway) broadcastTyping(roomID, userID string, isTyping bool) {
	g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
		"type": "typing", "roomId": roomID, "userId": userID, "isTyping": isTyping,
	}))
}

func (g *Gateway) send(c *Client, eventType string, data interface{}) {
	payload := map[string]interface{}{"type": eventType}
	if data != nil {
		payload["data"] = data
	}
	select {
	case c.send <- mustMarshal(payload):
	default:
	}
}

// EmitMessageUpdated implements pipeline.FanoutSink: §4.8's moderated
// handler calls this after persisting the moderation verdict.
func (g *Gateway) EmitMessageUpdated(ctx context.Context, roomID string, message broker.PersistedMessage) {
	g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
		"type": "message_updated", "roomId": roomID, "message": message,
	}))
}

// EmitMessageDeleted implements service.DeleteSink.
func (g *Gateway) EmitMessageDeleted(ctx context.Context, roomID, messageID string) {
	g.hub.Room(roomID).Broadcast(mustMarshal(map[string]interface{}{
		"type": "message_deleted", "roomId": roomID, "messageId": messageID,
	}))
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","data":{"message":"encode failure"}}`)
	}
	return b
}
