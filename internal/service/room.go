package service

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatroom/internal/apperr"
	"chatroom/internal/db"
	"chatroom/internal/models"
	"chatroom/internal/sanitize"
)

// RoomService implements C10 (membership & role service) plus the room
// CRUD it fronts, adapted from the teacher's RoomService — a Mongo
// document store and role-aware membership guards replace the
// teacher's single-owner GORM Room row.
type RoomService struct {
	rooms       *mongo.Collection
	memberships *mongo.Collection
	users       *mongo.Collection
}

func NewRoomService(database *mongo.Database) *RoomService {
	return &RoomService{
		rooms:       database.Collection(db.RoomsCollection),
		memberships: database.Collection(db.MembershipsCollection),
		users:       database.Collection(db.UsersCollection),
	}
}

type RoomDTO struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Private      bool      `json:"private"`
	CreatorID    string    `json:"creatorId"`
	MembersCount int       `json:"membersCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type MembershipDTO struct {
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func toRoomDTO(r models.Room) RoomDTO {
	return RoomDTO{
		ID: r.ID.Hex(), Type: string(r.Type), Name: r.Name, Private: r.Private,
		CreatorID: r.CreatorID.Hex(), MembersCount: r.MembersCount,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func toMembershipDTO(m models.Membership) MembershipDTO {
	return MembershipDTO{
		RoomID: m.RoomID.Hex(), UserID: m.UserID.Hex(), Role: string(m.Role),
		JoinedAt: m.JoinedAt, LastSeenAt: m.LastSeenAt,
	}
}

// Create implements §4.10 create: inserts the room, inserts the owner
// membership, sets membersCount = 1.
func (s *RoomService) Create(ctx context.Context, roomType models.RoomType, name string, private bool, creatorID string) (*RoomDTO, error) {
	creatorOID, err := primitive.ObjectIDFromHex(creatorID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid user id")
	}
	name = sanitize.SanitizeRoomName(name)
	if len(name) == 0 || len([]rune(name)) > 100 {
		return nil, apperr.ValidationFailf("room name must be 1-100 characters")
	}

	now := time.Now().UTC()
	room := models.Room{
		ID: primitive.NewObjectID(), Type: roomType, Name: name, Private: private,
		CreatorID: creatorOID, MembersCount: 1, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := s.rooms.InsertOne(ctx, room); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create room", err)
	}

	membership := models.Membership{
		ID: primitive.NewObjectID(), RoomID: room.ID, UserID: creatorOID,
		Role: models.MembershipOwner, JoinedAt: now, LastSeenAt: now,
	}
	if _, err := s.memberships.InsertOne(ctx, membership); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create owner membership", err)
	}

	dto := toRoomDTO(room)
	return &dto, nil
}

// ListForUser returns the rooms userID belongs to, most-recently-created
// first, bounded by limit.
func (s *RoomService) ListForUser(ctx context.Context, userID string, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid user id")
	}

	cur, err := s.memberships.Find(ctx, bson.M{"userId": userOID})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list memberships", err)
	}
	defer cur.Close(ctx)

	var roomIDs []primitive.ObjectID
	for cur.Next(ctx) {
		var m models.Membership
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "decode membership", err)
		}
		roomIDs = append(roomIDs, m.RoomID)
	}
	if len(roomIDs) == 0 {
		return []RoomDTO{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	rcur, err := s.rooms.Find(ctx, bson.M{"_id": bson.M{"$in": roomIDs}}, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list rooms", err)
	}
	defer rcur.Close(ctx)

	out := []RoomDTO{}
	for rcur.Next(ctx) {
		var r models.Room
		if err := rcur.Decode(&r); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "decode room", err)
		}
		out = append(out, toRoomDTO(r))
	}
	return out, nil
}

// Get returns the room, requiring userID to be a live member.
func (s *RoomService) Get(ctx context.Context, roomID, userID string) (*RoomDTO, error) {
	if ok, err := s.IsMember(ctx, roomID, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNotMember()
	}
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	dto := toRoomDTO(*room)
	return &dto, nil
}

// Update renames or re-privates a room. Caller must be owner or
// moderator.
func (s *RoomService) Update(ctx context.Context, roomID, callerID string, name *string, private *bool) (*RoomDTO, error) {
	role, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return nil, err
	}
	if role != models.MembershipOwner && role != models.MembershipModerator {
		return nil, apperr.Forbiddenf("only an owner or moderator may update the room")
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if name != nil {
		n := sanitize.SanitizeRoomName(*name)
		if len(n) == 0 || len([]rune(n)) > 100 {
			return nil, apperr.ValidationFailf("room name must be 1-100 characters")
		}
		set["name"] = n
	}
	if private != nil {
		set["private"] = *private
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid room id")
	}
	res := s.rooms.FindOneAndUpdate(ctx, bson.M{"_id": roomOID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	var room models.Room
	if err := res.Decode(&room); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errRoomNotFound()
		}
		return nil, apperr.Wrap(apperr.Internal, "update room", err)
	}
	dto := toRoomDTO(room)
	return &dto, nil
}

// AddMember implements §4.10 addMember.
func (s *RoomService) AddMember(ctx context.Context, roomID, callerID, targetID string) error {
	role, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if role != models.MembershipOwner && role != models.MembershipModerator {
		return apperr.Forbiddenf("only an owner or moderator may add members")
	}

	targetOID, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return apperr.ValidationFailf("invalid user id")
	}
	if err := s.users.FindOne(ctx, bson.M{"_id": targetOID}).Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return errUserNotFound()
		}
		return apperr.Wrap(apperr.Internal, "lookup target user", err)
	}

	if member, err := s.IsMember(ctx, roomID, targetID); err != nil {
		return err
	} else if member {
		return errAlreadyMember()
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return apperr.ValidationFailf("invalid room id")
	}
	now := time.Now().UTC()
	membership := models.Membership{
		ID: primitive.NewObjectID(), RoomID: roomOID, UserID: targetOID,
		Role: models.MembershipMember, JoinedAt: now, LastSeenAt: now,
	}
	if _, err := s.memberships.InsertOne(ctx, membership); err != nil {
		return apperr.Wrap(apperr.Internal, "insert membership", err)
	}
	if _, err := s.rooms.UpdateOne(ctx, bson.M{"_id": roomOID}, bson.M{"$inc": bson.M{"membersCount": 1}, "$set": bson.M{"updatedAt": now}}); err != nil {
		return apperr.Wrap(apperr.Internal, "increment membersCount", err)
	}
	return nil
}

// RemoveMember implements §4.10 removeMember's role matrix: caller=self,
// or caller=moderator with target=member, or caller=owner with
// target≠self; an owner can be removed only by themselves, and only
// when another owner exists.
func (s *RoomService) RemoveMember(ctx context.Context, roomID, callerID, targetID string) error {
	callerRole, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	targetRole, err := s.RoleOf(ctx, roomID, targetID)
	if err != nil {
		return err
	}

	self := callerID == targetID
	allowed := self ||
		(callerRole == models.MembershipModerator && targetRole == models.MembershipMember) ||
		(callerRole == models.MembershipOwner && !self)
	if !allowed {
		return apperr.Forbiddenf("not permitted to remove this member")
	}

	if targetRole == models.MembershipOwner {
		if !self {
			return apperr.Forbiddenf("an owner can only be removed by themselves")
		}
		owners, err := s.countOwners(ctx, roomID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return apperr.Forbiddenf("cannot remove the sole owner")
		}
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return apperr.ValidationFailf("invalid room id")
	}
	targetOID, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return apperr.ValidationFailf("invalid user id")
	}
	res, err := s.memberships.DeleteOne(ctx, bson.M{"roomId": roomOID, "userId": targetOID})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete membership", err)
	}
	if res.DeletedCount == 0 {
		return errNotMember()
	}
	if _, err := s.rooms.UpdateOne(ctx, bson.M{"_id": roomOID}, bson.M{"$inc": bson.M{"membersCount": -1}, "$set": bson.M{"updatedAt": time.Now().UTC()}}); err != nil {
		return apperr.Wrap(apperr.Internal, "decrement membersCount", err)
	}
	return nil
}

// UpdateMemberRole implements §4.10 updateMemberRole: caller must be
// owner, cannot change their own role, and the target must be a
// member other than the caller.
func (s *RoomService) UpdateMemberRole(ctx context.Context, roomID, callerID, targetID string, newRole models.MembershipRole) error {
	if callerID == targetID {
		return apperr.Forbiddenf("cannot change your own role")
	}
	callerRole, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if callerRole != models.MembershipOwner {
		return apperr.Forbiddenf("only an owner may change member roles")
	}
	if _, err := s.RoleOf(ctx, roomID, targetID); err != nil {
		return err
	}

	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return apperr.ValidationFailf("invalid room id")
	}
	targetOID, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return apperr.ValidationFailf("invalid user id")
	}
	res, err := s.memberships.UpdateOne(ctx, bson.M{"roomId": roomOID, "userId": targetOID}, bson.M{"$set": bson.M{"role": newRole}})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update member role", err)
	}
	if res.MatchedCount == 0 {
		return errNotMember()
	}
	return nil
}

// ListMembers returns roomID's memberships; requires userID to be a
// live member.
func (s *RoomService) ListMembers(ctx context.Context, roomID, userID string) ([]MembershipDTO, error) {
	if ok, err := s.IsMember(ctx, roomID, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNotMember()
	}
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid room id")
	}
	cur, err := s.memberships.Find(ctx, bson.M{"roomId": roomOID})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list members", err)
	}
	defer cur.Close(ctx)

	out := []MembershipDTO{}
	for cur.Next(ctx) {
		var m models.Membership
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "decode membership", err)
		}
		out = append(out, toMembershipDTO(m))
	}
	return out, nil
}

// IsMember is the O(1) guard lookup shared by every guard in §4.9/§4.10/§4.11.
func (s *RoomService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return false, apperr.ValidationFailf("invalid room id")
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, apperr.ValidationFailf("invalid user id")
	}
	err = s.memberships.FindOne(ctx, bson.M{"roomId": roomOID, "userId": userOID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "lookup membership", err)
	}
	return true, nil
}

// RoleOf returns the caller's role in roomID, or a Forbidden
// not-a-member error if they are not a member.
func (s *RoomService) RoleOf(ctx context.Context, roomID, userID string) (models.MembershipRole, error) {
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return "", apperr.ValidationFailf("invalid room id")
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return "", apperr.ValidationFailf("invalid user id")
	}
	var m models.Membership
	err = s.memberships.FindOne(ctx, bson.M{"roomId": roomOID, "userId": userOID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return "", errNotMember()
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "lookup role", err)
	}
	return m.Role, nil
}

// Exists reports whether roomID names a live room, for callers (§4.9
// send) that need to distinguish a missing room from a missing
// membership.
func (s *RoomService) Exists(ctx context.Context, roomID string) (bool, error) {
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return false, nil
	}
	err = s.rooms.FindOne(ctx, bson.M{"_id": roomOID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "lookup room", err)
	}
	return true, nil
}

func (s *RoomService) findRoom(ctx context.Context, roomID string) (*models.Room, error) {
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid room id")
	}
	var room models.Room
	err = s.rooms.FindOne(ctx, bson.M{"_id": roomOID}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, errRoomNotFound()
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup room", err)
	}
	return &room, nil
}

func (s *RoomService) countOwners(ctx context.Context, roomID string) (int64, error) {
	roomOID, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return 0, apperr.ValidationFailf("invalid room id")
	}
	n, err := s.memberships.CountDocuments(ctx, bson.M{"roomId": roomOID, "role": models.MembershipOwner})
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "count owners", err)
	}
	return n, nil
}
