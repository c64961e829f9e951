package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatroom/internal/apperr"
	"chatroom/internal/broker"
	"chatroom/internal/cache"
	"chatroom/internal/db"
	"chatroom/internal/models"
	"chatroom/internal/ratelimit"
	"chatroom/internal/sanitize"
)

// RoomMembership is the slice of RoomService the message service needs
// for its admission guards.
type RoomMembership interface {
	Exists(ctx context.Context, roomID string) (bool, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// Producer is the slice of broker.Producer the message service needs,
// kept as an interface so tests can substitute a fake.
type Producer interface {
	Produce(ctx context.Context, key string, v broker.Payload) error
}

// DeleteSink lets the realtime gateway learn about a REST-triggered
// soft delete, so it can emit message_deleted to the room — the
// pipeline's FanoutSink only covers the moderation-driven
// message_updated path.
type DeleteSink interface {
	EmitMessageDeleted(ctx context.Context, roomID, messageID string)
}

// MessageService implements C9: the transactional write path
// (admission → sanitize → store → cache → produce) and the history
// read path, adapted from the teacher's MessageService — Mongo replaces
// GORM, and sanitize/ratelimit/cache/broker replace bare SQL.
type MessageService struct {
	messages *mongo.Collection
	rooms    RoomMembership
	limiter  *ratelimit.Limiter
	limits   map[string]ratelimit.Rule
	cache    *cache.Cache
	inbound  Producer
	deleted  DeleteSink
}

func NewMessageService(database *mongo.Database, rooms RoomMembership, limiter *ratelimit.Limiter, limits map[string]ratelimit.Rule, c *cache.Cache, inbound Producer) *MessageService {
	return &MessageService{
		messages: database.Collection(db.MessagesCollection),
		rooms:    rooms,
		limiter:  limiter,
		limits:   limits,
		cache:    c,
		inbound:  inbound,
	}
}

// SetDeleteSink wires the realtime gateway in after construction,
// avoiding a constructor cycle (the gateway itself depends on the
// message service to handle send_message).
func (s *MessageService) SetDeleteSink(sink DeleteSink) { s.deleted = sink }

type MessageDTO struct {
	ID         string                `json:"id"`
	RoomID     string                `json:"roomId"`
	SenderID   string                `json:"senderId"`
	Body       string                `json:"body"`
	Moderation models.ModerationMeta `json:"moderation"`
	EditedAt   *time.Time            `json:"editedAt,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
}

func toMessageDTO(m models.Message) MessageDTO {
	return MessageDTO{
		ID: m.ID.Hex(), RoomID: m.RoomID.Hex(), SenderID: m.SenderID.Hex(),
		Body: m.Body, Moderation: m.Moderation, EditedAt: m.EditedAt, CreatedAt: m.CreatedAt,
	}
}

type ListOptions struct {
	Page   int
	Limit  int
	Cursor string
}

type ListResult struct {
	Messages   []MessageDTO `json:"messages"`
	Total      int64        `json:"total"`
	TotalPages int          `json:"totalPages"`
	HasNext    bool         `json:"hasNext"`
	HasPrev    bool         `json:"hasPrev"`
}

// Send implements §4.9 send.
func (s *MessageService) Send(ctx context.Context, roomID, body, userID, clientIP string) (*MessageDTO, error) {
	if rule, ok := s.limits["messageUser"]; ok {
		res, err := s.limiter.Allow(ctx, "messageUser:"+userID, rule)
		if err != nil {
			res = ratelimit.Result{Allowed: true, Remaining: -1}
		}
		if !res.Allowed {
			return nil, apperr.RateLimitedf("message rate limit exceeded", res.RetryAfter)
		}
	}
	if clientIP != "" {
		if rule, ok := s.limits["messageIP"]; ok {
			res, err := s.limiter.Allow(ctx, "messageIP:"+clientIP, rule)
			if err != nil {
				res = ratelimit.Result{Allowed: true, Remaining: -1}
			}
			if !res.Allowed {
				return nil, apperr.RateLimitedf("message rate limit exceeded", res.RetryAfter)
			}
		}
	}

	if exists, err := s.rooms.Exists(ctx, roomID); err != nil {
		return nil, err
	} else if !exists {
		return nil, errRoomNotFound()
	}
	if member, err := s.rooms.IsMember(ctx, roomID, userID); err != nil {
		return nil, err
	} else if !member {
		return nil, errNotMember()
	}

	sanitized := sanitize.SanitizeMessageBody(body)
	if len(sanitized) == 0 || len([]rune(sanitized)) > 2000 {
		return nil, apperr.ValidationFailf("message body must be 1-2000 characters after sanitization")
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid room id")
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid user id")
	}

	now := time.Now().UTC()
	msg := models.Message{
		ID: primitive.NewObjectID(), RoomID: roomOID, SenderID: userOID, Body: sanitized,
		Moderation: models.DefaultModerationMeta(), CreatedAt: now,
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert message", err)
	}

	dto := toMessageDTO(msg)

	if raw, err := json.Marshal(dto); err == nil {
		if err := s.cache.PrependMessage(ctx, roomID, raw); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("cache prepend message")
		}
	}

	if s.inbound != nil {
		metadata := broker.MessageMetadata{
			ID: dto.ID, RoomID: dto.RoomID, SenderID: dto.SenderID,
			Body: body, Timestamp: now.UnixMilli(), Type: "message.sent",
		}
		if err := s.inbound.Produce(ctx, dto.ID, metadata); err != nil {
			log.Warn().Err(err).Str("message_id", dto.ID).Msg("produce inbound message")
		}
	}

	return &dto, nil
}

// List implements §4.9 list: a cache-served first page, falling
// through to the document store otherwise.
func (s *MessageService) List(ctx context.Context, roomID, userID string, opts ListOptions) (*ListResult, error) {
	if member, err := s.rooms.IsMember(ctx, roomID, userID); err != nil {
		return nil, err
	} else if !member {
		return nil, errNotMember()
	}

	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid room id")
	}

	if page == 1 && opts.Cursor == "" {
		if cached, err := s.cache.GetRecentMessages(ctx, roomID); err == nil && cached != nil {
			msgs := make([]MessageDTO, 0, limit)
			for i, raw := range cached {
				if i >= limit {
					break
				}
				var dto MessageDTO
				if err := json.Unmarshal(raw, &dto); err != nil {
					continue
				}
				msgs = append(msgs, dto)
			}
			total, _ := s.messages.CountDocuments(ctx, bson.M{"roomId": roomOID, "deletedAt": nil})
			totalPages := totalPagesOf(total, limit)
			return &ListResult{
				Messages: msgs, Total: total, TotalPages: totalPages,
				HasNext: totalPages > 1, HasPrev: false,
			}, nil
		}
	}

	filter := bson.M{"roomId": roomOID, "deletedAt": nil}
	if opts.Cursor != "" {
		cursorOID, err := primitive.ObjectIDFromHex(opts.Cursor)
		if err != nil {
			return nil, apperr.ValidationFailf("invalid cursor")
		}
		var cursorMsg models.Message
		if err := s.messages.FindOne(ctx, bson.M{"_id": cursorOID}).Decode(&cursorMsg); err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, apperr.ValidationFailf("invalid cursor")
			}
			return nil, apperr.Wrap(apperr.Internal, "lookup cursor", err)
		}
		filter["createdAt"] = bson.M{"$lt": cursorMsg.CreatedAt}
	}

	total, err := s.messages.CountDocuments(ctx, bson.M{"roomId": roomOID, "deletedAt": nil})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "count messages", err)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	if opts.Cursor == "" && page > 1 {
		findOpts.SetSkip(int64((page - 1) * limit))
	}
	cur, err := s.messages.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list messages", err)
	}
	defer cur.Close(ctx)

	var msgs []MessageDTO
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "decode message", err)
		}
		msgs = append(msgs, toMessageDTO(m))
	}
	if msgs == nil {
		msgs = []MessageDTO{}
	}

	if page == 1 && opts.Cursor == "" {
		raws := make([]json.RawMessage, 0, len(msgs))
		for _, m := range msgs {
			if raw, err := json.Marshal(m); err == nil {
				raws = append(raws, raw)
			}
		}
		if err := s.cache.CacheRecentMessages(ctx, roomID, raws); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("refresh message cache")
		}
	}

	totalPages := totalPagesOf(total, limit)
	return &ListResult{
		Messages: msgs, Total: total, TotalPages: totalPages,
		HasNext: page < totalPages, HasPrev: page > 1,
	}, nil
}

// Update implements §4.9 update: sender-only, sanitized body, stamped
// editedAt.
func (s *MessageService) Update(ctx context.Context, id, body, userID string) (*MessageDTO, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID.Hex() != userID {
		return nil, apperr.Forbiddenf("only the sender may edit this message")
	}

	sanitized := sanitize.SanitizeMessageBody(body)
	if len(sanitized) == 0 || len([]rune(sanitized)) > 2000 {
		return nil, apperr.ValidationFailf("message body must be 1-2000 characters after sanitization")
	}

	now := time.Now().UTC()
	res := s.messages.FindOneAndUpdate(ctx, bson.M{"_id": msg.ID},
		bson.M{"$set": bson.M{"body": sanitized, "editedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))

	var updated models.Message
	if err := res.Decode(&updated); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update message", err)
	}

	if err := s.cache.Invalidate(ctx, updated.RoomID.Hex()); err != nil {
		log.Warn().Err(err).Str("room_id", updated.RoomID.Hex()).Msg("invalidate message cache")
	}

	dto := toMessageDTO(updated)
	return &dto, nil
}

// Delete implements §4.9 delete: sender-only soft delete.
func (s *MessageService) Delete(ctx context.Context, id, userID string) error {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID.Hex() != userID {
		return apperr.Forbiddenf("only the sender may delete this message")
	}

	now := time.Now().UTC()
	if _, err := s.messages.UpdateOne(ctx, bson.M{"_id": msg.ID}, bson.M{"$set": bson.M{"deletedAt": now}}); err != nil {
		return apperr.Wrap(apperr.Internal, "soft delete message", err)
	}
	if err := s.cache.Invalidate(ctx, msg.RoomID.Hex()); err != nil {
		log.Warn().Err(err).Str("room_id", msg.RoomID.Hex()).Msg("invalidate message cache")
	}
	if s.deleted != nil {
		s.deleted.EmitMessageDeleted(ctx, msg.RoomID.Hex(), msg.ID.Hex())
	}
	return nil
}

// Get implements §4.9 get.
func (s *MessageService) Get(ctx context.Context, id, userID string) (*MessageDTO, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if member, err := s.rooms.IsMember(ctx, msg.RoomID.Hex(), userID); err != nil {
		return nil, err
	} else if !member {
		return nil, errNotMember()
	}
	dto := toMessageDTO(*msg)
	return &dto, nil
}

// UpdateModeration implements pipeline.MessageStore: an atomic partial
// update of one message's moderation meta, by id, returning its
// createdAt/updatedAt for the persisted payload.
func (s *MessageService) UpdateModeration(ctx context.Context, messageID string, moderation broker.Moderation) (bool, int64, int64, error) {
	msgOID, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return false, 0, 0, nil
	}
	now := time.Now().UTC()
	meta := models.ModerationMeta{
		Sentiment: models.Sentiment(moderation.Sentiment),
		Flagged:   moderation.Flagged,
		Reasons:   moderation.Reasons,
	}
	res := s.messages.FindOneAndUpdate(ctx, bson.M{"_id": msgOID, "deletedAt": nil},
		bson.M{"$set": bson.M{"moderation": meta}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))

	var updated models.Message
	if err := res.Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return false, 0, 0, nil
		}
		return false, 0, 0, apperr.Wrap(apperr.Internal, "update moderation", err)
	}
	return true, updated.CreatedAt.UnixMilli(), now.UnixMilli(), nil
}

func (s *MessageService) loadLive(ctx context.Context, id string) (*models.Message, error) {
	msgOID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid message id")
	}
	var msg models.Message
	err = s.messages.FindOne(ctx, bson.M{"_id": msgOID, "deletedAt": nil}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, errMessageNotFound()
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup message", err)
	}
	return &msg, nil
}

func totalPagesOf(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}
