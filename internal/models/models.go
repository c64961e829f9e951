// Package models defines the document shapes persisted to the document
// store (§3): users, rooms, memberships, and messages. These replace
// the teacher's GORM row structs with Mongo BSON documents — see
// DESIGN.md's "Dropped teacher deps" entry for why.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a registered account. PasswordHash is excluded from default
// reads by the service layer, not by a BSON tag, because the same
// document is also used internally for auth where the hash is needed.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"passwordHash"`
	DisplayName  string             `bson:"displayName"`
	Role         Role               `bson:"role"`
	Active       bool               `bson:"active"`
	AvatarURL    string             `bson:"avatarUrl,omitempty"`
	LastLoginAt  *time.Time         `bson:"lastLoginAt,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type RoomType string

const (
	RoomDM      RoomType = "dm"
	RoomChannel RoomType = "channel"
)

// Room is a chat room. MembersCount is maintained redundantly on the
// document (invariant: equals the live Membership count for the room)
// so room listings never need a membership aggregation query.
type Room struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Type         RoomType           `bson:"type"`
	Name         string             `bson:"name"`
	Private      bool               `bson:"private"`
	CreatorID    primitive.ObjectID `bson:"creatorId"`
	MembersCount int                `bson:"membersCount"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type MembershipRole string

const (
	MembershipOwner     MembershipRole = "owner"
	MembershipModerator MembershipRole = "moderator"
	MembershipMember    MembershipRole = "member"
)

// Membership is a (room, user) pair. At most one Membership document
// exists per (RoomID, UserID) — enforced by a unique compound index in
// internal/db, not application-level locking.
type Membership struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty"`
	RoomID            primitive.ObjectID  `bson:"roomId"`
	UserID            primitive.ObjectID  `bson:"userId"`
	Role              MembershipRole      `bson:"role"`
	JoinedAt          time.Time           `bson:"joinedAt"`
	LastReadMessageID *primitive.ObjectID `bson:"lastReadMessageId,omitempty"`
	LastSeenAt        time.Time           `bson:"lastSeenAt"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ModerationMeta is the pipeline's verdict on a message. Every message
// starts neutral/unflagged and the pipeline rewrites this exactly once.
type ModerationMeta struct {
	Sentiment Sentiment `bson:"sentiment"`
	Flagged   bool      `bson:"flagged"`
	Reasons   []string  `bson:"reasons"`
}

func DefaultModerationMeta() ModerationMeta {
	return ModerationMeta{Sentiment: SentimentNeutral, Flagged: false, Reasons: []string{}}
}

// Message is a single chat message. DeletedAt set marks a soft delete:
// such a message must never be returned by history, direct reads, or
// the hot cache.
type Message struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	RoomID     primitive.ObjectID `bson:"roomId"`
	SenderID   primitive.ObjectID `bson:"senderId"`
	Body       string             `bson:"body"`
	Moderation ModerationMeta     `bson:"moderation"`
	EditedAt   *time.Time         `bson:"editedAt,omitempty"`
	DeletedAt  *time.Time         `bson:"deletedAt,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
}
